package notification

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type recordingPublisher struct {
	mu     sync.Mutex
	err    error
	queues []string
	bodies [][]byte
}

func (p *recordingPublisher) Publish(_ context.Context, queue string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queues = append(p.queues, queue)
	p.bodies = append(p.bodies, body)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.bodies)
}

func TestQueue_PublishesJSON(t *testing.T) {
	pub := &recordingPublisher{}
	q := &Queue{pub: pub, queue: "email_jobs", log: zap.NewNop().Sugar()}

	q.Notify(context.Background(), Message{UserID: "u1", Kind: KindPaymentReminder, Subject: "Upcoming payment", Data: map[string]any{"amount": "56.50"}})
	require.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, 5*time.Millisecond)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Equal(t, "email_jobs", pub.queues[0])
	var got Message
	require.NoError(t, json.Unmarshal(pub.bodies[0], &got))
	require.Equal(t, KindPaymentReminder, got.Kind)
	require.Equal(t, "56.50", got.Data["amount"])
	require.False(t, got.CreatedAt.IsZero())
}

func TestQueue_PublishErrorIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	pub := &recordingPublisher{err: errors.New("channel closed")}
	q := &Queue{pub: pub, queue: "email_jobs", log: zap.New(core).Sugar()}

	q.Notify(context.Background(), Message{UserID: "u1", Kind: KindPaymentFailed})
	require.Eventually(t, func() bool {
		return logs.FilterMessage("publish notification failed").Len() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestLogOnly_Notify(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	n := &LogOnly{log: zap.New(core).Sugar()}

	n.Notify(context.Background(), Message{UserID: "u1", Kind: KindMembershipLapsed, Subject: "Membership lapsed"})
	entries := logs.FilterMessage("notification").All()
	require.Len(t, entries, 1)
	require.Equal(t, KindMembershipLapsed, entries[0].ContextMap()["kind"])
}
