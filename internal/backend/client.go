// AngelaMos | 2026
// client.go

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/carterperez-dev/templates/credit-ledger/internal/auth"
	"github.com/carterperez-dev/templates/credit-ledger/internal/core"
	"github.com/carterperez-dev/templates/credit-ledger/internal/ledger"
	"github.com/carterperez-dev/templates/credit-ledger/internal/profile"
	"github.com/carterperez-dev/templates/credit-ledger/internal/realtime"
	"github.com/carterperez-dev/templates/credit-ledger/internal/session"
)

const (
	defaultTimeout  = 15 * time.Second
	maxResponseBody = 1 << 20
)

// TokenSource supplies the bearer token for user-scoped calls.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *slog.Logger
}

// Client talks to the credit-ledger API. The zero-token client serves the
// session provider; WithTokens derives the user-scoped client the
// entitlement resolver and credit cache use.
type Client struct {
	base   *url.URL
	http   *http.Client
	dialer *websocket.Dialer
	logger *slog.Logger
	tokens TokenSource
}

func NewClient(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https: %q", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		base:   base,
		http:   httpClient,
		dialer: &websocket.Dialer{HandshakeTimeout: timeout},
		logger: logger,
	}, nil
}

// WithTokens returns a copy that authenticates with src.
func (c *Client) WithTokens(src TokenSource) *Client {
	cp := *c
	cp.tokens = src
	return &cp
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *core.ErrorBody `json:"error"`
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = c.base.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// call performs one JSON request. token may be empty for public routes.
func (c *Client) call(
	ctx context.Context,
	method, path string,
	query url.Values,
	token string,
	header http.Header,
	in, out any,
) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s %s: encode body: %w", method, path, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), body)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w: %w", method, path, ErrUnavailable, err)
	}
	defer func() {
		//nolint:errcheck // body fully read below
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w: %w", method, path, ErrUnavailable, err)
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && resp.StatusCode < 400 {
			return fmt.Errorf("%s %s: decode envelope: %w", method, path, err)
		}
	}

	if resp.StatusCode >= 400 || !env.Success {
		return fmt.Errorf("%s %s: %w", method, path, newAPIError(resp.StatusCode, env.Error))
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("%s %s: decode data: %w", method, path, err)
		}
	}

	return nil
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	if c.tokens == nil {
		return "", session.ErrNotAuthenticated
	}
	return c.tokens.AccessToken(ctx)
}

func (c *Client) authed(
	ctx context.Context,
	method, path string,
	query url.Values,
	header http.Header,
	in, out any,
) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}
	return c.call(ctx, method, path, query, token, header, in, out)
}

func toSession(resp *auth.AuthResponse) *session.Session {
	s := &session.Session{Identity: toIdentity(resp.User)}
	if resp.Tokens != nil {
		s.Tokens = &session.Tokens{
			AccessToken:  resp.Tokens.AccessToken,
			RefreshToken: resp.Tokens.RefreshToken,
			ExpiresAt:    resp.Tokens.ExpiresAt,
		}
	}
	return s
}

func toIdentity(u auth.UserResponse) session.Identity {
	return session.Identity{ID: u.ID, Email: u.Email, Metadata: u.Metadata}
}

func (c *Client) SignUp(
	ctx context.Context,
	email, password string,
	metadata map[string]string,
) (*session.Session, error) {
	var resp auth.AuthResponse
	err := c.call(ctx, http.MethodPost, "/auth/signup", nil, "", nil,
		auth.SignUpRequest{Email: email, Password: password, Metadata: metadata}, &resp)
	if err != nil {
		return nil, err
	}
	return toSession(&resp), nil
}

func (c *Client) SignIn(ctx context.Context, email, password string) (*session.Session, error) {
	var resp auth.AuthResponse
	err := c.call(ctx, http.MethodPost, "/auth/login", nil, "", nil,
		auth.LoginRequest{Email: email, Password: password}, &resp)
	if err != nil {
		return nil, err
	}
	return toSession(&resp), nil
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (*session.Session, error) {
	var resp auth.AuthResponse
	err := c.call(ctx, http.MethodPost, "/auth/refresh", nil, "", nil,
		auth.RefreshRequest{RefreshToken: refreshToken}, &resp)
	if err != nil {
		return nil, err
	}
	return toSession(&resp), nil
}

func (c *Client) SignOut(ctx context.Context, tokens session.Tokens) error {
	body := map[string]string{"refresh_token": tokens.RefreshToken}
	return c.call(ctx, http.MethodPost, "/auth/logout", nil, tokens.AccessToken, nil, body, nil)
}

func (c *Client) ConfirmEmail(ctx context.Context, token string) error {
	return c.call(ctx, http.MethodPost, "/auth/confirm", nil, "", nil,
		auth.ConfirmRequest{Token: token}, nil)
}

func (c *Client) ResetPassword(ctx context.Context, email string) error {
	return c.call(ctx, http.MethodPost, "/auth/password/reset", nil, "", nil,
		auth.PasswordResetRequest{Email: email}, nil)
}

func (c *Client) UpdatePassword(ctx context.Context, tokens session.Tokens, password string) error {
	return c.call(ctx, http.MethodPut, "/auth/password", nil, tokens.AccessToken, nil,
		auth.UpdatePasswordRequest{Password: password, RefreshToken: tokens.RefreshToken}, nil)
}

func (c *Client) UpdateMetadata(
	ctx context.Context,
	accessToken string,
	metadata map[string]string,
) (*session.Identity, error) {
	var resp auth.UserResponse
	err := c.call(ctx, http.MethodPut, "/auth/metadata", nil, accessToken, nil,
		auth.UpdateMetadataRequest{Metadata: metadata}, &resp)
	if err != nil {
		return nil, err
	}
	identity := toIdentity(resp)
	return &identity, nil
}

func (c *Client) WatchAuth(
	ctx context.Context,
	accessToken, userID string,
	handle func(realtime.Event),
) (session.Subscription, error) {
	ch, err := c.dial(ctx, accessToken, realtime.AuthTopic(userID), handle)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (c *Client) GetProfile(ctx context.Context, id string) (*profile.Profile, error) {
	var p profile.Profile
	if err := c.authed(ctx, http.MethodGet, "/profiles/"+url.PathEscape(id), nil, nil, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) CreateProfile(
	ctx context.Context,
	req profile.CreateProfileRequest,
) (*profile.Profile, error) {
	var p profile.Profile
	if err := c.authed(ctx, http.MethodPost, "/profiles", nil, nil, req, &p); err != nil {
		if errors.Is(err, core.ErrDuplicateKey) {
			return nil, fmt.Errorf("%w: %w", profile.ErrAlreadyExists, err)
		}
		return nil, err
	}
	return &p, nil
}

// Subscribe opens a push channel for topic using the client's token source.
func (c *Client) Subscribe(
	ctx context.Context,
	topic realtime.Topic,
	handle func(realtime.Event),
) (session.Subscription, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	ch, err := c.dial(ctx, token, topic, handle)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (c *Client) GetAccount(ctx context.Context) (*ledger.Account, error) {
	var account ledger.Account
	if err := c.authed(ctx, http.MethodGet, "/credit_accounts/me", nil, nil, nil, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

func (c *Client) Debit(
	ctx context.Context,
	amount int64,
	description, idempotencyKey string,
) (*ledger.Receipt, error) {
	return c.amountCall(ctx, "/rpc/debit_credits", amount, description, idempotencyKey)
}

func (c *Client) Credit(
	ctx context.Context,
	amount int64,
	description, idempotencyKey string,
) (*ledger.Receipt, error) {
	return c.amountCall(ctx, "/rpc/credit_credits", amount, description, idempotencyKey)
}

func (c *Client) amountCall(
	ctx context.Context,
	path string,
	amount int64,
	description, idempotencyKey string,
) (*ledger.Receipt, error) {
	var header http.Header
	if idempotencyKey != "" {
		header = http.Header{ledger.IdempotencyKeyHeader: []string{idempotencyKey}}
	}

	var receipt ledger.Receipt
	err := c.authed(ctx, http.MethodPost, path, nil, header,
		ledger.AmountRequest{Amount: amount, Description: description}, &receipt)
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (c *Client) RecordDailyUsage(ctx context.Context, amount int64) error {
	return c.authed(ctx, http.MethodPost, "/rpc/record_daily_usage", nil, nil,
		ledger.RecordUsageRequest{Amount: amount}, nil)
}

func (c *Client) DailyUsage(ctx context.Context, daysBack int) (int64, error) {
	var resp ledger.DailyUsageResponse
	err := c.authed(ctx, http.MethodPost, "/rpc/daily_usage", nil, nil,
		ledger.DailyUsageRequest{DaysBack: daysBack}, &resp)
	if err != nil {
		return 0, err
	}
	return resp.Usage, nil
}

func (c *Client) DaysRemaining(ctx context.Context) (int64, error) {
	var resp ledger.DaysRemainingResponse
	if err := c.authed(ctx, http.MethodPost, "/rpc/days_remaining", nil, nil, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Days, nil
}

func (c *Client) ListTransactions(ctx context.Context, limit, offset int) (*ledger.TransactionPage, error) {
	query := url.Values{
		"limit":  []string{strconv.Itoa(limit)},
		"offset": []string{strconv.Itoa(offset)},
	}

	var page ledger.TransactionPage
	if err := c.authed(ctx, http.MethodGet, "/credit_transactions", query, nil, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}
