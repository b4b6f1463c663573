// Package notification hands member-facing messages to the email worker.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/memberships/pkg/config"
	"github.com/fatflowers/memberships/pkg/logctx"
)

type Kind string

const (
	KindMembershipLapsed    Kind = "membership_lapsed"
	KindPaymentReminder     Kind = "payment_reminder"
	KindExpiryReminder      Kind = "expiry_reminder"
	KindMembershipCancelled Kind = "membership_cancelled"
	KindPaymentFailed       Kind = "payment_failed"
)

type Message struct {
	UserID    string         `json:"user_id"`
	Kind      Kind           `json:"kind"`
	Subject   string         `json:"subject"`
	Body      string         `json:"body"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Notifier delivers messages without blocking the caller. Delivery failures are logged only.
type Notifier interface {
	Notify(ctx context.Context, msg Message)
}

const publishTimeout = 5 * time.Second

// publisher is the subset of the broker client the Queue needs.
type publisher interface {
	Publish(ctx context.Context, queue string, body []byte) error
	Close() error
}

// Queue publishes messages as JSON onto a durable queue.
type Queue struct {
	pub   publisher
	queue string
	log   *zap.SugaredLogger
}

func (q *Queue) Notify(ctx context.Context, msg Message) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	lg := logctx.FromCtx(ctx, q.log).With("user_id", msg.UserID, "kind", msg.Kind)
	go func() {
		body, err := json.Marshal(msg)
		if err != nil {
			lg.Errorw("marshal notification failed", "err", err)
			return
		}
		pubCtx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := q.pub.Publish(pubCtx, q.queue, body); err != nil {
			lg.Errorw("publish notification failed", "queue", q.queue, "err", err)
			return
		}
		lg.Debugw("notification published", "queue", q.queue)
	}()
}

// LogOnly is used when no broker is configured.
type LogOnly struct {
	log *zap.SugaredLogger
}

func (n *LogOnly) Notify(ctx context.Context, msg Message) {
	logctx.FromCtx(ctx, n.log).Infow("notification", "user_id", msg.UserID, "kind", msg.Kind, "subject", msg.Subject)
}

// New dials RabbitMQ when rabbitmq.url is set and falls back to logging otherwise.
func New(lc fx.Lifecycle, cfg *config.Config, log *zap.SugaredLogger) (Notifier, error) {
	if cfg.RabbitMQ.URL == "" {
		log.Infow("rabbitmq not configured, notifications are logged only")
		return &LogOnly{log: log}, nil
	}
	client, err := dial(cfg.RabbitMQ.URL)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}
	if err := client.CreateQueue(cfg.RabbitMQ.Queue); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("declare queue %s: %w", cfg.RabbitMQ.Queue, err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error {
		return client.Close()
	}})
	return &Queue{pub: client, queue: cfg.RabbitMQ.Queue, log: log}, nil
}

type rabbitClient struct {
	conn *amqp.Connection
	chn  *amqp.Channel
}

func dial(url string) (*rabbitClient, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	chn, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return &rabbitClient{conn: conn, chn: chn}, nil
}

func (r *rabbitClient) CreateQueue(name string) error {
	_, err := r.chn.QueueDeclare(
		name,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	return err
}

func (r *rabbitClient) Publish(ctx context.Context, queue string, body []byte) error {
	return r.chn.PublishWithContext(ctx,
		"",    // default exchange
		queue, // routing key
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}

func (r *rabbitClient) Close() error {
	if err := r.chn.Close(); err != nil {
		return err
	}
	return r.conn.Close()
}

var Module = fx.Options(
	fx.Provide(New),
)
