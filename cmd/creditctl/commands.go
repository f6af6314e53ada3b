// AngelaMos | 2026
// commands.go

package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/carterperez-dev/templates/credit-ledger/internal/credits"
	"github.com/carterperez-dev/templates/credit-ledger/internal/entitlement"
	"github.com/carterperez-dev/templates/credit-ledger/internal/session"
)

const watchInterval = 500 * time.Millisecond

var errNotSignedIn = fmt.Errorf("%w: run creditctl signin first", session.ErrNotAuthenticated)

func (c *cli) requireIdentity() (session.Identity, error) {
	identity, ok := c.app.provider.Current()
	if !ok || c.app.provider.State() != session.StateAuthenticated {
		return session.Identity{}, errNotSignedIn
	}
	return identity, nil
}

// readPassword returns flagValue or, when empty, the first line of in.
func readPassword(cmd *cobra.Command, flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}

	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}

	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("password is required")
	}
	return password, nil
}

func parseAmount(arg string) (int64, error) {
	amount, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("amount %q is not a whole number", arg)
	}
	return amount, nil
}

func (c *cli) signUpCmd() *cobra.Command {
	var email, password, name string

	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Register a new account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := readPassword(cmd, password)
			if err != nil {
				return err
			}

			var metadata map[string]string
			if name != "" {
				metadata = map[string]string{"full_name": name}
			}

			identity, err := c.app.provider.SignUp(cmd.Context(), email, pw, metadata)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if c.app.provider.State() == session.StateAuthenticated {
				fmt.Fprintf(out, "signed up and signed in as %s\n", identity.Email)
				return nil
			}
			fmt.Fprintf(out, "signed up as %s; confirm your email, then run creditctl signin\n", identity.Email)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (prompted when omitted)")
	cmd.Flags().StringVar(&name, "name", "", "full name")
	//nolint:errcheck // flag is defined above
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func (c *cli) signInCmd() *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "signin",
		Short: "Sign in and store the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := readPassword(cmd, password)
			if err != nil {
				return err
			}

			identity, err := c.app.provider.SignIn(cmd.Context(), email, pw)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s\n", identity.Email)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (prompted when omitted)")
	//nolint:errcheck // flag is defined above
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func (c *cli) signOutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "Sign out and forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.app.provider.SignOut(cmd.Context()); err != nil {
				return fmt.Errorf("signed out locally: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "signed out")
			return nil
		},
	}
}

func (c *cli) confirmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "confirm <token>",
		Short: "Confirm an email address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.app.provider.ConfirmEmail(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "email confirmed")
			return nil
		},
	}
}

func (c *cli) resetPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-password <email>",
		Short: "Request a password reset email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.app.provider.ResetPassword(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "if the account exists, a reset email is on its way")
			return nil
		},
	}
}

func (c *cli) setPasswordCmd() *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "set-password",
		Short: "Change the password; other sessions are signed out",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := c.requireIdentity(); err != nil {
				return err
			}
			pw, err := readPassword(cmd, password)
			if err != nil {
				return err
			}
			if err := c.app.provider.UpdatePassword(cmd.Context(), pw); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "password updated")
			return nil
		},
	}

	cmd.Flags().StringVar(&password, "password", "", "new password (prompted when omitted)")
	return cmd
}

func (c *cli) setNameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-name <full name>",
		Short: "Update the display name stored on the account",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := c.requireIdentity(); err != nil {
				return err
			}
			name := strings.Join(args, " ")
			identity, err := c.app.provider.UpdateMetadata(cmd.Context(), map[string]string{"full_name": name})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "name set to %s\n", identity.Metadata["full_name"])
			return nil
		},
	}
}

func (c *cli) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the session, profile and capabilities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			state := c.app.provider.State()

			fmt.Fprintf(out, "state:        %s\n", state)
			identity, ok := c.app.provider.Current()
			if !ok {
				return nil
			}
			fmt.Fprintf(out, "user:         %s <%s>\n", identity.ID, identity.Email)

			p, err := c.app.profiles.Profile()
			if err != nil {
				fmt.Fprintf(out, "profile:      %s\n", c.app.profiles.Status())
			} else {
				fmt.Fprintf(out, "name:         %s\n", p.FullName)
				fmt.Fprintf(out, "role:         %s\n", p.Role)
			}

			printCapabilities(out, c.app.profiles.Capabilities())
			printBalance(out, c.app.credits)
			return nil
		},
	}
}

func printCapabilities(out io.Writer, caps entitlement.Capabilities) {
	fmt.Fprintf(out, "subscriber:   %t\n", caps.IsSubscriber)
	fmt.Fprintf(out, "premium:      %t\n", caps.HasPremiumSubscription)
	fmt.Fprintf(out, "admin:        %t\n", caps.IsAdmin)
}

func printBalance(out io.Writer, cache *credits.Cache) {
	balance, known := cache.Balance()
	if !known {
		fmt.Fprintln(out, "balance:      unknown")
		return
	}
	fmt.Fprintf(out, "balance:      %d\n", balance)
}

func (c *cli) balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show the credit balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := c.requireIdentity(); err != nil {
				return err
			}
			balance, known := c.app.credits.Balance()
			if !known {
				return credits.ErrRemoteUnavailable
			}
			fmt.Fprintln(cmd.OutOrStdout(), balance)
			return nil
		},
	}
}

func (c *cli) debitCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "debit <amount>",
		Short: "Spend credits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := c.requireIdentity(); err != nil {
				return err
			}
			amount, err := parseAmount(args[0])
			if err != nil {
				return err
			}

			receipt, err := c.app.credits.Debit(cmd.Context(), amount, reason)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "debited %d, balance %d (transaction %s)\n",
				amount, receipt.NewBalance, receipt.TransactionID)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "description stored on the transaction")
	return cmd
}

func (c *cli) creditCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "credit <amount>",
		Short: "Add credits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := c.requireIdentity(); err != nil {
				return err
			}
			amount, err := parseAmount(args[0])
			if err != nil {
				return err
			}

			receipt, err := c.app.credits.Credit(cmd.Context(), amount, reason)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "credited %d, balance %d (transaction %s)\n",
				amount, receipt.NewBalance, receipt.TransactionID)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "description stored on the transaction")
	return cmd
}

func (c *cli) projectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "project <cost>",
		Short: "Preview a spend against the cached balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := c.requireIdentity(); err != nil {
				return err
			}
			cost, err := parseAmount(args[0])
			if err != nil {
				return err
			}

			proj := c.app.credits.Project(cost)
			allowed := credits.Gate(c.app.profiles.Capabilities(), proj.Balance, cost)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "balance:      %d\n", proj.Balance)
			fmt.Fprintf(out, "after:        %d\n", proj.After)
			fmt.Fprintf(out, "sufficient:   %t\n", proj.Sufficient)
			fmt.Fprintf(out, "allowed:      %t\n", allowed)
			return nil
		},
	}
}

func (c *cli) historyCmd() *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List credit transactions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := c.requireIdentity(); err != nil {
				return err
			}

			txs, err := c.app.credits.ListTransactions(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "CREATED\tKIND\tAMOUNT\tBALANCE\tDESCRIPTION")
			for _, tx := range txs {
				kind := "credit"
				if tx.IsDebit() {
					kind = "debit"
				}
				fmt.Fprintf(tw, "%s\t%s\t%+d\t%d\t%s\n",
					tx.CreatedAt.Local().Format(time.DateTime),
					kind,
					tx.Amount,
					tx.BalanceAfter,
					tx.Description,
				)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	return cmd
}

func (c *cli) usageCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show credits spent over the trailing days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := c.requireIdentity(); err != nil {
				return err
			}
			usage := c.app.credits.DailyUsage(cmd.Context(), days)
			fmt.Fprintf(cmd.OutOrStdout(), "%d credits over %d days\n", usage, days)
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 30, "trailing window in days")
	return cmd
}

func (c *cli) daysRemainingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "days-remaining",
		Short: "Estimate how many days the balance lasts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := c.requireIdentity(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), c.app.credits.DaysRemaining(cmd.Context()))
			return nil
		},
	}
}

// watchCmd prints balance and role changes pushed by the backend until
// interrupted or signed out elsewhere.
func (c *cli) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow balance and entitlement changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := c.requireIdentity(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			ticker := time.NewTicker(watchInterval)
			defer ticker.Stop()

			var (
				lastBalance int64
				lastKnown   bool
				lastCaps    entitlement.Capabilities
				first       = true
			)

			for {
				if c.app.provider.State() != session.StateAuthenticated {
					fmt.Fprintln(out, "session ended")
					return nil
				}

				balance, known := c.app.credits.Balance()
				if first || balance != lastBalance || known != lastKnown {
					if known {
						fmt.Fprintf(out, "%s balance %d\n", time.Now().Format(time.TimeOnly), balance)
					} else {
						fmt.Fprintf(out, "%s balance unknown\n", time.Now().Format(time.TimeOnly))
					}
					lastBalance, lastKnown = balance, known
				}

				caps := c.app.profiles.Capabilities()
				if first || caps != lastCaps {
					fmt.Fprintf(out, "%s subscriber=%t premium=%t admin=%t\n",
						time.Now().Format(time.TimeOnly),
						caps.IsSubscriber, caps.HasPremiumSubscription, caps.IsAdmin)
					lastCaps = caps
				}
				first = false

				select {
				case <-cmd.Context().Done():
					return nil
				case <-ticker.C:
				}
			}
		},
	}
}
