// Package amqp publishes post-authorize events to a RabbitMQ exchange.
package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/dropDatabas3/openidconnect/internal/claims"
	"github.com/dropDatabas3/openidconnect/internal/domain/repository"
	"github.com/dropDatabas3/openidconnect/internal/oidc"
)

const (
	DefaultExchange   = "oidc.events"
	DefaultRoutingKey = "oidc.authorized"
)

// Channel is the slice of *amqp.Channel the publisher needs.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Event is the message body. Tokens are never published.
type Event struct {
	Type       string    `json:"type"`
	Provider   string    `json:"provider"`
	Subject    string    `json:"sub"`
	AccountID  string    `json:"account_id"`
	Username   string    `json:"username"`
	Email      string    `json:"email,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher implements hooks.PostAuthorizeObserver.
type Publisher struct {
	ch         Channel
	exchange   string
	routingKey string
	now        func() time.Time
}

func NewPublisher(ch Channel, exchange, routingKey string) *Publisher {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if routingKey == "" {
		routingKey = DefaultRoutingKey
	}
	return &Publisher{ch: ch, exchange: exchange, routingKey: routingKey, now: time.Now}
}

func (p *Publisher) PostAuthorize(ctx context.Context, _ *oidc.TokenSet, acc *repository.Account, c claims.Claims, provider string) error {
	ev := Event{
		Type:       "authorized",
		Provider:   provider,
		Subject:    c.Subject(),
		AccountID:  acc.ID,
		Username:   acc.Username,
		Email:      acc.Email,
		OccurredAt: p.now().UTC(),
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	headers := amqp.Table{"provider": provider}
	if rid := RequestID(ctx); rid != "" {
		headers["X-Request-ID"] = rid
	}
	return p.ch.PublishWithContext(ctx,
		p.exchange,
		p.routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    ev.OccurredAt,
			Body:         body,
			Headers:      headers,
		},
	)
}

type requestIDKey struct{}

// WithRequestID stores the id the publisher copies into message headers.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestID(ctx context.Context) string {
	s, _ := ctx.Value(requestIDKey{}).(string)
	return s
}

// Dial connects to url and declares a durable topic exchange.
func Dial(url, exchange string) (*amqp.Connection, *amqp.Channel, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.DialConfig(url, amqp.Config{
		Locale: "en_US",
		Dial:   amqp.DefaultDial(10 * time.Second),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return conn, ch, nil
}
