// AngelaMos | 2026
// topic.go

package realtime

import (
	"errors"
	"fmt"
	"strings"
)

const (
	TableProfiles       = "profiles"
	TableCreditAccounts = "credit_accounts"
	TableAuth           = "auth"
)

var ErrInvalidTopic = errors.New("invalid topic")

// ownerColumns maps every subscribable table to the column that carries the
// owning user id. Topics must filter on that column.
var ownerColumns = map[string]string{
	TableProfiles:       "id",
	TableCreditAccounts: "user_id",
	TableAuth:           "user_id",
}

// Topic is a row filter of the form "<table>:<column>=eq.<value>".
type Topic struct {
	Table  string
	Column string
	Value  string
}

func (t Topic) String() string {
	return t.Table + ":" + t.Column + "=eq." + t.Value
}

// Owner returns the user id the topic is scoped to.
func (t Topic) Owner() string {
	return t.Value
}

func ParseTopic(s string) (Topic, error) {
	table, filter, ok := strings.Cut(s, ":")
	if !ok || table == "" {
		return Topic{}, fmt.Errorf("parse topic %q: %w", s, ErrInvalidTopic)
	}

	column, value, ok := strings.Cut(filter, "=eq.")
	if !ok || value == "" {
		return Topic{}, fmt.Errorf("parse topic %q: %w", s, ErrInvalidTopic)
	}

	owner, known := ownerColumns[table]
	if !known {
		return Topic{}, fmt.Errorf(
			"parse topic %q: unknown table: %w",
			s,
			ErrInvalidTopic,
		)
	}

	if column != owner {
		return Topic{}, fmt.Errorf(
			"parse topic %q: %s must filter on %s: %w",
			s,
			table,
			owner,
			ErrInvalidTopic,
		)
	}

	return Topic{Table: table, Column: column, Value: value}, nil
}

func ProfileTopic(userID string) Topic {
	return Topic{Table: TableProfiles, Column: "id", Value: userID}
}

func AccountTopic(userID string) Topic {
	return Topic{Table: TableCreditAccounts, Column: "user_id", Value: userID}
}

func AuthTopic(userID string) Topic {
	return Topic{Table: TableAuth, Column: "user_id", Value: userID}
}
