package analysis

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidchen/finsight/internal/blob"
	"github.com/davidchen/finsight/internal/store"
)

// stubAnalyzer returns a canned result or error. With block set it holds the
// analysis open until the channel closes, to model long-running work.
type stubAnalyzer struct {
	mu     sync.Mutex
	calls  int
	result map[string]any
	err    error
	block  chan struct{}
}

func (a *stubAnalyzer) Analyze(ctx context.Context, _ string) (map[string]any, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()

	if a.block != nil {
		select {
		case <-a.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if a.err != nil {
		return nil, a.err
	}
	return a.result, nil
}

func (a *stubAnalyzer) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func goodResult() map[string]any {
	return map[string]any{
		"company":        "Acme Corp",
		"summary":        "Revenue grew 12%.",
		"sentiment":      "positive",
		"recommendation": "buy",
	}
}

func newTestService(t *testing.T, analyzer Analyzer) (*Service, *store.Store) {
	t.Helper()
	mem := blob.NewMemory()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	step := 0
	mem.SetClock(func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Second)
	})
	st := store.New(mem, "analysis-records")
	return NewService(st, analyzer, nil, time.Minute), st
}

func TestBegin_RunsToCompletion(t *testing.T) {
	analyzer := &stubAnalyzer{result: goodResult()}
	svc, st := newTestService(t, analyzer)
	ctx := context.Background()

	outcome, err := svc.Begin(ctx, "alice", "r1", Submission{FileName: "10k.txt", Text: "REVENUE UP"})
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, outcome.Status)
	assert.Equal(t, store.StateProcessing, outcome.Record.State())

	svc.Wait()

	rec, err := st.GetByRequestID(ctx, "alice", "r1")
	require.NoError(t, err)
	assert.Equal(t, store.StateCompleted, rec.State())
	assert.Equal(t, "Acme Corp", rec.Payload["company"])
	assert.Equal(t, "buy", rec.Payload["recommendation"])
}

func TestBegin_CompletedIsDuplicate(t *testing.T) {
	analyzer := &stubAnalyzer{result: goodResult()}
	svc, _ := newTestService(t, analyzer)
	ctx := context.Background()

	_, err := svc.Begin(ctx, "alice", "r1", Submission{Text: "REVENUE UP"})
	require.NoError(t, err)
	svc.Wait()

	outcome, err := svc.Begin(ctx, "alice", "r1", Submission{Text: "REVENUE UP"})
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicate, outcome.Status)
	assert.Equal(t, store.StateCompleted, outcome.Record.State())
	assert.Equal(t, 1, analyzer.callCount(), "no duplicate work for a completed request")
}

func TestBegin_ProcessingIsInProgress(t *testing.T) {
	analyzer := &stubAnalyzer{result: goodResult(), block: make(chan struct{})}
	svc, _ := newTestService(t, analyzer)
	ctx := context.Background()

	first, err := svc.Begin(ctx, "alice", "r1", Submission{Text: "REVENUE UP"})
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, first.Status)

	second, err := svc.Begin(ctx, "alice", "r1", Submission{Text: "REVENUE UP"})
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, second.Status)
	assert.Equal(t, first.Record.ID, second.Record.ID)

	close(analyzer.block)
	svc.Wait()
	assert.Equal(t, 1, analyzer.callCount())
}

func TestBegin_FailedIsRetried(t *testing.T) {
	analyzer := &stubAnalyzer{err: fmt.Errorf("llm unavailable")}
	svc, st := newTestService(t, analyzer)
	ctx := context.Background()

	_, err := svc.Begin(ctx, "alice", "r1", Submission{Text: "REVENUE UP"})
	require.NoError(t, err)
	svc.Wait()

	rec, err := st.GetByRequestID(ctx, "alice", "r1")
	require.NoError(t, err)
	assert.Equal(t, store.StateFailed, rec.State())
	assert.Contains(t, rec.Error, "llm unavailable")

	// A failed attempt does not block resubmission.
	analyzer.err = nil
	analyzer.result = goodResult()
	outcome, err := svc.Begin(ctx, "alice", "r1", Submission{Text: "REVENUE UP"})
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, outcome.Status)
	svc.Wait()

	rec, err = st.GetByRequestID(ctx, "alice", "r1")
	require.NoError(t, err)
	assert.Equal(t, store.StateCompleted, rec.State())
}

func TestBegin_SameRequestIDDifferentTenants(t *testing.T) {
	analyzer := &stubAnalyzer{result: goodResult()}
	svc, st := newTestService(t, analyzer)
	ctx := context.Background()

	a, err := svc.Begin(ctx, "alice", "r1", Submission{Text: "ALICE FILING"})
	require.NoError(t, err)
	b, err := svc.Begin(ctx, "bob", "r1", Submission{Text: "BOB FILING"})
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, a.Status)
	assert.Equal(t, StatusStarted, b.Status, "tenants never share idempotency state")
	svc.Wait()

	assert.Equal(t, 2, analyzer.callCount())
	_, err = st.GetByRequestID(ctx, "alice", "r1")
	assert.NoError(t, err)
	_, err = st.GetByRequestID(ctx, "bob", "r1")
	assert.NoError(t, err)
}

func TestBegin_Validation(t *testing.T) {
	svc, _ := newTestService(t, &stubAnalyzer{result: goodResult()})
	ctx := context.Background()

	_, err := svc.Begin(ctx, "", "r1", Submission{Text: "x"})
	assert.True(t, store.IsValidation(err))

	_, err = svc.Begin(ctx, "alice", "", Submission{Text: "x"})
	assert.True(t, store.IsValidation(err))
}

func TestProcess_SchemaRejectionFails(t *testing.T) {
	analyzer := &stubAnalyzer{result: map[string]any{"company": "Acme Corp"}}
	svc, st := newTestService(t, analyzer)
	ctx := context.Background()

	_, err := svc.Begin(ctx, "alice", "r1", Submission{Text: "REVENUE UP"})
	require.NoError(t, err)
	svc.Wait()

	rec, err := st.GetByRequestID(ctx, "alice", "r1")
	require.NoError(t, err)
	assert.Equal(t, store.StateFailed, rec.State())
	assert.Contains(t, rec.Error, "rejected")
}

func TestProcess_EmptySubmissionFails(t *testing.T) {
	analyzer := &stubAnalyzer{result: goodResult()}
	svc, st := newTestService(t, analyzer)
	ctx := context.Background()

	_, err := svc.Begin(ctx, "alice", "r1", Submission{})
	require.NoError(t, err)
	svc.Wait()

	rec, err := st.GetByRequestID(ctx, "alice", "r1")
	require.NoError(t, err)
	assert.Equal(t, store.StateFailed, rec.State())
	assert.Equal(t, 0, analyzer.callCount(), "nothing to analyze, LLM never called")
}

// deadlineClient passes calls through to the memory adapter but refuses work
// on an expired context, the way a real network client does.
type deadlineClient struct {
	inner *blob.Memory
}

func (c deadlineClient) Put(ctx context.Context, key string, body []byte) (blob.Object, error) {
	if err := ctx.Err(); err != nil {
		return blob.Object{}, err
	}
	return c.inner.Put(ctx, key, body)
}

func (c deadlineClient) List(ctx context.Context, prefix string) ([]blob.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.inner.List(ctx, prefix)
}

func (c deadlineClient) Fetch(ctx context.Context, url string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.inner.Fetch(ctx, url)
}

func (c deadlineClient) Delete(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.inner.Delete(ctx, url)
}

func TestProcess_SlowRunStillCompletes(t *testing.T) {
	block := make(chan struct{})
	analyzer := &stubAnalyzer{result: goodResult(), block: block}
	st := store.New(deadlineClient{inner: blob.NewMemory()}, "analysis-records")
	svc := NewService(st, analyzer, nil, time.Minute)
	// The run outlasts the write budget, so a write deadline taken before
	// the run finished would already be expired at completion time.
	svc.writeTimeout = 20 * time.Millisecond
	ctx := context.Background()

	_, err := svc.Begin(ctx, "alice", "r1", Submission{Text: "REVENUE UP"})
	require.NoError(t, err)
	time.AfterFunc(60*time.Millisecond, func() { close(block) })
	svc.Wait()

	rec, err := st.GetByRequestID(ctx, "alice", "r1")
	require.NoError(t, err)
	assert.Equal(t, store.StateCompleted, rec.State())
	assert.Equal(t, "buy", rec.Payload["recommendation"])
}

func TestProcess_SlowRunStillRecordsFailure(t *testing.T) {
	analyzer := &stubAnalyzer{result: goodResult(), block: make(chan struct{})}
	st := store.New(deadlineClient{inner: blob.NewMemory()}, "analysis-records")
	svc := NewService(st, analyzer, nil, 50*time.Millisecond)
	svc.writeTimeout = 20 * time.Millisecond
	ctx := context.Background()

	_, err := svc.Begin(ctx, "alice", "r1", Submission{Text: "REVENUE UP"})
	require.NoError(t, err)
	svc.Wait()

	rec, err := st.GetByRequestID(ctx, "alice", "r1")
	require.NoError(t, err)
	assert.Equal(t, store.StateFailed, rec.State(), "a timed-out run must not stay Processing")
}

func TestProcess_TimeoutFails(t *testing.T) {
	analyzer := &stubAnalyzer{result: goodResult(), block: make(chan struct{})}
	mem := blob.NewMemory()
	st := store.New(mem, "analysis-records")
	svc := NewService(st, analyzer, nil, 50*time.Millisecond)
	ctx := context.Background()

	_, err := svc.Begin(ctx, "alice", "r1", Submission{Text: "REVENUE UP"})
	require.NoError(t, err)
	svc.Wait()

	rec, err := st.GetByRequestID(ctx, "alice", "r1")
	require.NoError(t, err)
	assert.Equal(t, store.StateFailed, rec.State())
}

func TestExtractorFallback(t *testing.T) {
	analyzer := &stubAnalyzer{result: goodResult()}
	svc, st := newTestService(t, analyzer)
	ctx := context.Background()

	// Document bytes with no Text go through the plain text extractor.
	_, err := svc.Begin(ctx, "alice", "r1", Submission{
		FileName: "10k.txt", ContentType: "text/plain", Document: []byte("REVENUE UP"),
	})
	require.NoError(t, err)
	svc.Wait()

	rec, err := st.GetByRequestID(ctx, "alice", "r1")
	require.NoError(t, err)
	assert.Equal(t, store.StateCompleted, rec.State())
}
