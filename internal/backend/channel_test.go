// AngelaMos | 2026
// channel_test.go

package backend

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/templates/credit-ledger/internal/core"
	"github.com/carterperez-dev/templates/credit-ledger/internal/ledger"
	"github.com/carterperez-dev/templates/credit-ledger/internal/realtime"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// streamEvents upgrades, writes evts in order, then either drains until the
// client leaves or hangs up immediately.
func streamEvents(t *testing.T, evts []realtime.Event, hangUp bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() {
			//nolint:errcheck // test server
			_ = conn.Close()
		}()

		for _, evt := range evts {
			if err := conn.WriteJSON(evt); err != nil {
				t.Errorf("write event: %v", err)
				return
			}
		}
		if hangUp {
			return
		}

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}

func accountEvent(t *testing.T, balance int64) realtime.Event {
	t.Helper()
	evt, err := realtime.NewEvent(
		realtime.AccountTopic("user-1"),
		realtime.EventUpdate,
		ledger.Account{UserID: "user-1", Balance: balance},
	)
	require.NoError(t, err)
	return evt
}

func TestSubscribeDeliversEventsInOrder(t *testing.T) {
	topic := realtime.AccountTopic("user-1")
	sent := []realtime.Event{accountEvent(t, 100), accountEvent(t, 80), accountEvent(t, 60)}

	client, _ := newTestClient(t, func(r chi.Router) {
		r.Get("/realtime", func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer tok-ada", r.Header.Get("Authorization"))
			assert.Equal(t, topic.String(), r.URL.Query().Get("topic"))
			streamEvents(t, sent, false)(w, r)
		})
	})

	got := make(chan realtime.Event, len(sent))
	sub, err := client.WithTokens(staticToken("tok-ada")).Subscribe(
		context.Background(),
		topic,
		func(evt realtime.Event) { got <- evt },
	)
	require.NoError(t, err)

	for _, want := range []int64{100, 80, 60} {
		select {
		case evt := <-got:
			var account ledger.Account
			require.NoError(t, evt.Decode(&account))
			assert.Equal(t, want, account.Balance)
			assert.Equal(t, topic.String(), evt.Topic)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for balance %d", want)
		}
	}

	require.NoError(t, sub.Close())
	assert.NoError(t, sub.Close())

	ch, ok := sub.(*Channel)
	require.True(t, ok)
	select {
	case <-ch.Done():
	default:
		t.Fatal("channel still running after Close")
	}
}

func TestChannelDoneWhenServerHangsUp(t *testing.T) {
	client, _ := newTestClient(t, func(r chi.Router) {
		r.Get("/realtime", streamEvents(t, nil, true))
	})

	sub, err := client.WatchAuth(
		context.Background(),
		"tok-ada",
		"user-1",
		func(realtime.Event) {},
	)
	require.NoError(t, err)

	ch, ok := sub.(*Channel)
	require.True(t, ok)

	select {
	case <-ch.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not stop after hang-up")
	}

	assert.NoError(t, sub.Close())
}

func TestSubscribeHandshakeRejectionMapsError(t *testing.T) {
	client, _ := newTestClient(t, func(r chi.Router) {
		r.Get("/realtime", func(w http.ResponseWriter, _ *http.Request) {
			writeError(w, http.StatusUnauthorized, "TOKEN_EXPIRED", "token has expired")
		})
	})

	_, err := client.WithTokens(staticToken("stale")).Subscribe(
		context.Background(),
		realtime.ProfileTopic("user-1"),
		func(realtime.Event) {},
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrTokenExpired)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}
