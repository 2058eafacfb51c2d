package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/openidconnect/internal/claims"
	"github.com/dropDatabas3/openidconnect/internal/domain/repository"
	"github.com/dropDatabas3/openidconnect/internal/oidc"
)

type fakeChannel struct {
	exchange, key string
	msg           amqp.Publishing
	err           error
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.exchange, f.key, f.msg = exchange, key, msg
	return f.err
}

func TestPublishAuthorized(t *testing.T) {
	ch := &fakeChannel{}
	p := NewPublisher(ch, "", "")
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	ctx := WithRequestID(context.Background(), "req-1")
	ts := &oidc.TokenSet{AccessToken: "secret-access", IDToken: "secret-id"}
	acc := &repository.Account{ID: "acc-1", Username: "ada", Email: "ada@example.com"}
	err := p.PostAuthorize(ctx, ts, acc, claims.Claims{"sub": "s-1"}, "google")
	require.NoError(t, err)

	require.Equal(t, DefaultExchange, ch.exchange)
	require.Equal(t, DefaultRoutingKey, ch.key)
	require.Equal(t, "req-1", ch.msg.Headers["X-Request-ID"])
	require.Equal(t, "application/json", ch.msg.ContentType)
	require.NotContains(t, string(ch.msg.Body), "secret-")

	var ev Event
	require.NoError(t, json.Unmarshal(ch.msg.Body, &ev))
	require.Equal(t, Event{
		Type: "authorized", Provider: "google", Subject: "s-1", AccountID: "acc-1",
		Username: "ada", Email: "ada@example.com", OccurredAt: fixed,
	}, ev)
}

func TestPublishErrorReturned(t *testing.T) {
	ch := &fakeChannel{err: errors.New("channel closed")}
	p := NewPublisher(ch, "x", "k")
	err := p.PostAuthorize(context.Background(), nil, &repository.Account{ID: "a"}, claims.Claims{"sub": "s"}, "p")
	require.EqualError(t, err, "channel closed")
}
