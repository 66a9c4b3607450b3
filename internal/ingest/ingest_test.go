package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-media-flow/internal/domain"
	"github.com/ramiqadoumi/go-media-flow/internal/engine"
	"github.com/ramiqadoumi/go-media-flow/internal/kafka"
)

// ── mocks ────────────────────────────────────────────────────────────────────

type publishedMsg struct {
	topic string
	key   string
	value []byte
}

type fakeProducer struct {
	msgs []publishedMsg
	err  error
}

func (p *fakeProducer) Publish(_ context.Context, topic, key string, value []byte) error {
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, publishedMsg{topic, key, value})
	return nil
}
func (p *fakeProducer) Close() error { return nil }

// fakeConsumer delivers a fixed set of messages and records what the handler
// returned for each, which decides whether the offset would be committed.
type fakeConsumer struct {
	msgs    []kafka.Message
	results []error
}

func (c *fakeConsumer) Subscribe(ctx context.Context, h kafka.HandlerFunc) error {
	for _, m := range c.msgs {
		c.results = append(c.results, h(ctx, m))
	}
	return nil
}
func (c *fakeConsumer) Close() error { return nil }

type enqueueCall struct {
	kind    string
	payload string
}

type fakeEngine struct {
	calls []enqueueCall
	err   error
}

func (e *fakeEngine) Enqueue(_ context.Context, kind string, payload []byte) (*domain.Task, error) {
	e.calls = append(e.calls, enqueueCall{kind, string(payload)})
	if e.err != nil {
		return nil, e.err
	}
	return &domain.Task{ID: "task-1", Kind: kind, Status: domain.StatusPending}, nil
}

// ── helpers ──────────────────────────────────────────────────────────────────

func run(t *testing.T, eng *fakeEngine, prod *fakeProducer, values ...string) *fakeConsumer {
	t.Helper()
	cons := &fakeConsumer{}
	for i, v := range values {
		cons.msgs = append(cons.msgs, kafka.Message{Topic: TopicRequests, Offset: int64(i), Value: []byte(v)})
	}
	require.NoError(t, New(cons, prod, eng, slog.Default()).Run(context.Background()))
	return cons
}

func deadLetter(t *testing.T, m publishedMsg) DeadLetter {
	t.Helper()
	var dl DeadLetter
	require.NoError(t, json.Unmarshal(m.value, &dl))
	return dl
}

// ── tests ────────────────────────────────────────────────────────────────────

func TestIngest_AcceptedRequestIsEnqueued(t *testing.T) {
	eng := &fakeEngine{}
	prod := &fakeProducer{}

	cons := run(t, eng, prod, `{"kind":"minimaxi-image","payload":{"prompt":"a red fox"}}`)

	require.Len(t, eng.calls, 1)
	assert.Equal(t, "minimaxi-image", eng.calls[0].kind)
	assert.JSONEq(t, `{"prompt":"a red fox"}`, eng.calls[0].payload)
	assert.Empty(t, prod.msgs, "accepted requests publish nothing")
	assert.NoError(t, cons.results[0])
}

func TestIngest_MalformedGoesToDLQ(t *testing.T) {
	eng := &fakeEngine{}
	prod := &fakeProducer{}

	cons := run(t, eng, prod, `not json`)

	assert.Empty(t, eng.calls)
	require.Len(t, prod.msgs, 1)
	assert.Equal(t, TopicDLQ, prod.msgs[0].topic)
	dl := deadLetter(t, prod.msgs[0])
	assert.Contains(t, dl.Reason, "malformed")
	assert.Equal(t, `"not json"`, string(dl.Original))
	assert.Equal(t, dl.ID, prod.msgs[0].key)
	assert.NoError(t, cons.results[0], "DLQ'd messages are committed")
}

func TestIngest_RejectedRequestsGoToDLQ(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{"unknown kind", &domain.InvalidRequestKindError{Kind: "nope"}},
		{"invalid payload", &domain.InvalidRequestError{Field: "prompt", Reason: "prompt is required"}},
		{"rate limited", &domain.RateLimitExceededError{Kind: "kling-image", Limit: 5}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eng := &fakeEngine{err: tc.err}
			prod := &fakeProducer{}

			raw := `{"kind":"kling-image","payload":{}}`
			cons := run(t, eng, prod, raw)

			require.Len(t, prod.msgs, 1)
			dl := deadLetter(t, prod.msgs[0])
			assert.Equal(t, tc.err.Error(), dl.Reason)
			assert.JSONEq(t, raw, string(dl.Original))
			assert.NoError(t, cons.results[0])
		})
	}
}

func TestIngest_ShutdownLeavesOffsetUncommitted(t *testing.T) {
	eng := &fakeEngine{err: engine.ErrShuttingDown}
	prod := &fakeProducer{}

	cons := run(t, eng, prod, `{"kind":"kling-video","payload":{"prompt":"waves"}}`)

	assert.Empty(t, prod.msgs)
	assert.ErrorIs(t, cons.results[0], engine.ErrShuttingDown)
}

func TestIngest_DLQPublishFailureIsRetried(t *testing.T) {
	boom := errors.New("broker unavailable")
	eng := &fakeEngine{}
	prod := &fakeProducer{err: boom}

	cons := run(t, eng, prod, `{{{`)

	assert.ErrorIs(t, cons.results[0], boom)
}
