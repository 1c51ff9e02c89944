package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/incident-map-service/internal/domain"
	"github.com/couchcryptid/incident-map-service/internal/pipeline"
)

// --- mocks ---

type sliceSource struct {
	msgs  []domain.RawMessage
	index atomic.Int64
	errs  atomic.Int64 // leading errors to return before the first message
}

func (s *sliceSource) Next(ctx context.Context) (domain.RawMessage, error) {
	if s.errs.Load() > 0 {
		s.errs.Add(-1)
		return domain.RawMessage{}, errors.New("broker unavailable")
	}
	i := int(s.index.Add(1) - 1)
	if i >= len(s.msgs) {
		// block until context cancelled to simulate waiting for messages
		<-ctx.Done()
		return domain.RawMessage{}, ctx.Err()
	}
	return s.msgs[i], nil
}

type call struct {
	Text       string
	Provenance string
}

type recordingIngester struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (r *recordingIngester) Ingest(_ context.Context, text, provenance string) (pipeline.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{Text: text, Provenance: provenance})
	return pipeline.Result{}, r.err
}

func (r *recordingIngester) recorded() []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]call(nil), r.calls...)
}

func commitCounter(n *atomic.Int64) func(context.Context) error {
	return func(context.Context) error {
		n.Add(1)
		return nil
	}
}

// --- tests ---

func TestPipeline_Run_IngestsMessages(t *testing.T) {
	var commits atomic.Int64
	src := &sliceSource{msgs: []domain.RawMessage{
		{Text: "Авария на улице Абая, движение перекрыто", SourceLabel: "tg:kzo_news", Commit: commitCounter(&commits)},
		{Text: "  Ремонт теплотрассы на Желтоксан  ", Commit: commitCounter(&commits)},
	}}
	ing := &recordingIngester{}
	m := newTestMetrics()
	p := pipeline.New("kafka", src, ing, 10, discardLogger(), m)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Run(ctx))

	want := []call{
		{Text: "Авария на улице Абая, движение перекрыто", Provenance: "tg:kzo_news"},
		{Text: "Ремонт теплотрассы на Желтоксан", Provenance: "channel"},
	}
	if diff := cmp.Diff(want, ing.recorded()); diff != "" {
		t.Errorf("ingested calls mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, int64(2), commits.Load())
	assert.InDelta(t, 2, testutil.ToFloat64(m.MessagesReceived.WithLabelValues("kafka")), 0)
}

func TestPipeline_Run_SkipsShortMessages(t *testing.T) {
	var commits atomic.Int64
	src := &sliceSource{msgs: []domain.RawMessage{
		{Text: "ок", Commit: commitCounter(&commits)},
		{Text: "     ", Commit: commitCounter(&commits)},
		{Text: "Пожар на рынке", Commit: commitCounter(&commits)},
	}}
	ing := &recordingIngester{}
	m := newTestMetrics()
	p := pipeline.New("queue", src, ing, 10, discardLogger(), m)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Run(ctx))

	require.Len(t, ing.recorded(), 1)
	assert.Equal(t, "Пожар на рынке", ing.recorded()[0].Text)
	assert.Equal(t, int64(3), commits.Load(), "skipped messages are still committed")
	assert.InDelta(t, 2, testutil.ToFloat64(m.MessagesSkipped), 0)
}

func TestPipeline_Run_ParseFailureDropsAndCommits(t *testing.T) {
	var commits atomic.Int64
	src := &sliceSource{msgs: []domain.RawMessage{
		{Text: "Авария на улице Абая", Commit: commitCounter(&commits)},
		{Text: "Ремонт на улице Ауэзова", Commit: commitCounter(&commits)},
	}}
	ing := &recordingIngester{err: &domain.ParseFailure{Err: errors.New("gemini: HTTP 503")}}
	p := pipeline.New("queue", src, ing, 0, discardLogger(), newTestMetrics())

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Run(ctx))

	assert.Len(t, ing.recorded(), 2, "a parse failure must not stop the loop")
	assert.Equal(t, int64(2), commits.Load())
}

func TestPipeline_Run_BacksOffOnSourceErrors(t *testing.T) {
	src := &sliceSource{msgs: []domain.RawMessage{{Text: "Авария на улице Абая"}}}
	src.errs.Store(2)
	ing := &recordingIngester{}
	p := pipeline.New("kafka", src, ing, 0, discardLogger(), newTestMetrics())

	// Two errors back off 200ms then 400ms before the message is read.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	go func() {
		assert.Eventually(t, func() bool { return len(ing.recorded()) == 1 }, 2*time.Second, 10*time.Millisecond)
		cancel()
	}()
	require.NoError(t, p.Run(ctx))

	assert.Len(t, ing.recorded(), 1)
	assert.GreaterOrEqual(t, time.Since(start), 600*time.Millisecond)
}

func TestPipeline_Run_ContextCancellation(t *testing.T) {
	p := pipeline.New("queue", &sliceSource{}, &recordingIngester{}, 0, discardLogger(), newTestMetrics())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, p.Run(ctx))
}

func TestPipeline_Run_StopsWhenQueueClosed(t *testing.T) {
	q := pipeline.NewQueue(4, newTestMetrics())
	require.NoError(t, q.Offer(domain.RawMessage{Text: "Авария на улице Абая"}))
	q.Close()

	ing := &recordingIngester{}
	p := pipeline.New("queue", q, ing, 0, discardLogger(), newTestMetrics())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Run(ctx))
	assert.Len(t, ing.recorded(), 1, "queued messages drain before the loop exits")
}

func TestPipeline_CheckReadiness(t *testing.T) {
	m := newTestMetrics()
	p := pipeline.New("queue", &sliceSource{}, &recordingIngester{}, 0, discardLogger(), m)
	require.Error(t, p.CheckReadiness(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()

	assert.Eventually(t, func() bool { return p.CheckReadiness(context.Background()) == nil },
		time.Second, 10*time.Millisecond)
	assert.InDelta(t, 1, testutil.ToFloat64(m.PipelineRunning), 0)

	cancel()
	<-done
	require.Error(t, p.CheckReadiness(context.Background()))
	assert.InDelta(t, 0, testutil.ToFloat64(m.PipelineRunning), 0)
}
