// AngelaMos | 2026
// channel.go

package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/carterperez-dev/templates/credit-ledger/internal/credits"
	"github.com/carterperez-dev/templates/credit-ledger/internal/entitlement"
	"github.com/carterperez-dev/templates/credit-ledger/internal/realtime"
	"github.com/carterperez-dev/templates/credit-ledger/internal/session"
)

var (
	_ session.Authenticator = (*Client)(nil)
	_ entitlement.Store     = (*Client)(nil)
	_ credits.Remote        = (*Client)(nil)
	_ session.Subscription  = (*Channel)(nil)
)

const closeWait = time.Second

// Channel is an open realtime subscription. One goroutine reads frames and
// calls the handler, so events arrive in the order the server sent them.
// A dropped channel is logged and not retried; the next arm opens a new one.
type Channel struct {
	topic  string
	conn   *websocket.Conn
	handle func(realtime.Event)
	logger *slog.Logger

	closeOnce sync.Once
	closing   chan struct{}
	done      chan struct{}
}

func (c *Client) dial(
	ctx context.Context,
	token string,
	topic realtime.Topic,
	handle func(realtime.Event),
) (*Channel, error) {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = c.base.Path + "/realtime"
	u.RawQuery = url.Values{"topic": []string{topic.String()}}.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("subscribe %s: %w", topic, handshakeError(resp))
		}
		return nil, fmt.Errorf("subscribe %s: %w: %w", topic, ErrUnavailable, err)
	}

	ch := &Channel{
		topic:   topic.String(),
		conn:    conn,
		handle:  handle,
		logger:  c.logger,
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go ch.read()

	return ch, nil
}

func handshakeError(resp *http.Response) error {
	defer func() {
		//nolint:errcheck // handshake response is discarded
		_ = resp.Body.Close()
	}()

	var env envelope
	if raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody)); err == nil {
		//nolint:errcheck // non-JSON bodies fall back to the status code
		_ = json.Unmarshal(raw, &env)
	}
	return newAPIError(resp.StatusCode, env.Error)
}

func (ch *Channel) read() {
	defer close(ch.done)

	for {
		_, data, err := ch.conn.ReadMessage()
		if err != nil {
			select {
			case <-ch.closing:
			default:
				ch.logger.Warn("realtime channel dropped",
					"topic", ch.topic,
					"error", err,
				)
			}
			return
		}

		var evt realtime.Event
		if err := json.Unmarshal(data, &evt); err != nil {
			ch.logger.Warn("discarding malformed realtime frame",
				"topic", ch.topic,
				"error", err,
			)
			continue
		}

		ch.handle(evt)
	}
}

// Close ends the subscription and waits for the reader to exit. It is safe
// to call more than once but must not be called from the handler.
func (ch *Channel) Close() error {
	var err error
	ch.closeOnce.Do(func() {
		close(ch.closing)

		//nolint:errcheck // best-effort close frame
		_ = ch.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeWait),
		)
		if cerr := ch.conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	})

	<-ch.done
	return err
}

// Done is closed once the channel stops delivering events.
func (ch *Channel) Done() <-chan struct{} {
	return ch.done
}
