// AngelaMos | 2026
// broker_test.go

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerPublishesToRedis(t *testing.T) {
	client, mock := redismock.NewClientMock()
	hub := NewHub(4)
	broker := NewBroker(client, hub, nil)

	evt := Event{
		Topic:  AccountTopic("u-1").String(),
		Type:   EventUpdate,
		Record: json.RawMessage(`{"balance":10}`),
		At:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	payload, err := json.Marshal(evt)
	require.NoError(t, err)

	mock.ExpectPublish("realtime:credit_accounts:user_id=eq.u-1", payload).SetVal(1)

	require.NoError(t, broker.Publish(context.Background(), evt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBrokerFallsBackToLocalHub(t *testing.T) {
	client, mock := redismock.NewClientMock()
	hub := NewHub(4)
	broker := NewBroker(client, hub, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	topic := ProfileTopic("u-2").String()
	events := hub.Subscribe(ctx, topic)

	evt := Event{Topic: topic, Type: EventInsert, At: time.Unix(0, 0).UTC()}
	payload, err := json.Marshal(evt)
	require.NoError(t, err)

	mock.ExpectPublish("realtime:"+topic, payload).SetErr(errors.New("connection refused"))

	err = broker.Publish(context.Background(), evt)
	require.Error(t, err)

	select {
	case got := <-events:
		assert.Equal(t, EventInsert, got.Type)
	case <-time.After(time.Second):
		t.Fatal("event not delivered locally")
	}
}

func TestBrokerRelayDropsMalformed(t *testing.T) {
	client, _ := redismock.NewClientMock()
	hub := NewHub(4)
	broker := NewBroker(client, hub, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	topic := AuthTopic("u-3").String()
	events := hub.Subscribe(ctx, topic)

	broker.relay("{not json")
	broker.relay(`{"topic":"auth:user_id=eq.u-3","type":"SIGNED_OUT","at":"2026-01-01T00:00:00Z"}`)

	got := <-events
	assert.Equal(t, EventSignedOut, got.Type)
}
