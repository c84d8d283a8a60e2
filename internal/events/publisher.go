package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

type Publisher interface {
	Publish(ctx context.Context, eventType string, correlationID string, data any) error
	Close() error
}

// channel is the slice of *amqp.Channel the publisher needs.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// dialFunc opens a fresh connection and channel with the exchange declared.
type dialFunc func() (channel, io.Closer, error)

// redialInterval bounds how often a broken publisher tries the broker again.
const redialInterval = 5 * time.Second

type AMQPPublisher struct {
	mu       sync.Mutex
	conn     io.Closer
	ch       channel
	dial     dialFunc
	lastDial time.Time
	exchange string
	log      *slog.Logger
	now      func() time.Time
}

// DialAMQP connects, declares a durable topic exchange and returns a
// publisher that routes every event by its type. A publisher whose channel
// or connection was closed by the broker dials again on the next publish.
func DialAMQP(url, exchange string, logger *slog.Logger) (*AMQPPublisher, error) {
	dial := func() (channel, io.Closer, error) {
		conn, err := amqp.Dial(url)
		if err != nil {
			return nil, nil, err
		}
		ch, err := conn.Channel()
		if err != nil {
			conn.Close()
			return nil, nil, err
		}
		if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
			conn.Close()
			return nil, nil, err
		}
		return ch, conn, nil
	}

	ch, conn, err := dial()
	if err != nil {
		return nil, err
	}
	p := newAMQPPublisher(ch, exchange, logger)
	p.conn = conn
	p.dial = dial
	p.lastDial = p.now()
	return p, nil
}

func newAMQPPublisher(ch channel, exchange string, logger *slog.Logger) *AMQPPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &AMQPPublisher{
		ch:       ch,
		exchange: exchange,
		log:      logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (p *AMQPPublisher) Publish(ctx context.Context, eventType string, correlationID string, data any) error {
	env := Envelope{
		Meta: Meta{
			ID:       uuid.NewString(),
			Type:     eventType,
			Producer: producer,
			Time:     p.now(),
		},
		Data: data,
	}
	if correlationID != "" {
		env.Meta.CorrelationID = &correlationID
	}

	body, err := json.Marshal(env)
	if err != nil {
		return err
	}

	msg := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.Meta.ID,
		CorrelationId: correlationID,
		Timestamp:     env.Meta.Time,
		Type:          eventType,
		Body:          body,
	}

	// amqp channels are not safe for concurrent publishing.
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil {
		if err := p.reconnect(); err != nil {
			return err
		}
	}
	err = p.ch.PublishWithContext(ctx, p.exchange, eventType, false, false, msg)
	if errors.Is(err, amqp.ErrClosed) && p.dial != nil {
		p.log.Warn("amqp channel closed, reconnecting", slog.String("exchange", p.exchange))
		p.drop()
		if rerr := p.reconnect(); rerr != nil {
			return errors.Join(err, rerr)
		}
		err = p.ch.PublishWithContext(ctx, p.exchange, eventType, false, false, msg)
	}
	if err == nil {
		p.log.Debug("published", slog.String("key", eventType), slog.String("exchange", p.exchange))
	}
	return err
}

// reconnect replaces a dropped channel. Callers hold p.mu.
func (p *AMQPPublisher) reconnect() error {
	if p.dial == nil {
		return amqp.ErrClosed
	}
	if now := p.now(); !p.lastDial.IsZero() && now.Sub(p.lastDial) < redialInterval {
		return fmt.Errorf("amqp reconnect throttled: %w", amqp.ErrClosed)
	}
	p.lastDial = p.now()

	ch, conn, err := p.dial()
	if err != nil {
		return fmt.Errorf("amqp reconnect: %w", err)
	}
	p.ch, p.conn = ch, conn
	p.log.Info("amqp reconnected", slog.String("exchange", p.exchange))
	return nil
}

func (p *AMQPPublisher) drop() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.ch, p.conn = nil, nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil {
		return nil
	}
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// NopPublisher drops every event. Used when AMQP_URL is unset.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, string, any) error { return nil }
func (NopPublisher) Close() error { return nil }
