package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidchen/finsight/internal/blob"
)

func newTestStore(t *testing.T) (*Store, *blob.Memory) {
	t.Helper()
	mem := blob.NewMemory()
	// Strictly increasing upload timestamps, so latest-version picks are
	// deterministic regardless of wall clock resolution.
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	step := 0
	mem.SetClock(func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Second)
	})
	return New(mem, "analysis-records"), mem
}

func TestAddAndGet(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	rec, err := st.Add(ctx, "alice", "r1", map[string]any{"fileName": "10k.pdf"})
	require.NoError(t, err)
	assert.Equal(t, "req_r1", rec.ID)
	assert.Equal(t, "alice", rec.Owner)
	assert.Equal(t, StateProcessing, rec.State())

	got, err := st.Get(ctx, "alice", "req_r1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, "r1", got.RequestID)
	assert.Equal(t, "10k.pdf", got.Payload["fileName"])
	assert.Equal(t, StateProcessing, got.State())
}

func TestAdd_ReservedFieldsIgnored(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	rec, err := st.Add(ctx, "alice", "r1", map[string]any{
		"user_id":  "mallory",
		"id":       "req_other",
		"fileName": "10k.pdf",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.Owner)
	assert.Equal(t, "req_r1", rec.ID)

	got, err := st.Get(ctx, "alice", "req_r1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Owner)
	assert.NotContains(t, got.Payload, "user_id")
}

func TestAdd_Validation(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	_, err := st.Add(ctx, "", "r1", nil)
	assert.True(t, IsValidation(err))

	_, err = st.Add(ctx, "alice", "", nil)
	assert.True(t, IsValidation(err))
}

func TestGet_NotFound(t *testing.T) {
	st, _ := newTestStore(t)

	_, err := st.Get(context.Background(), "alice", "req_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetByRequestID(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	_, err := st.Add(ctx, "alice", "r1", nil)
	require.NoError(t, err)

	got, err := st.GetByRequestID(ctx, "alice", "r1")
	require.NoError(t, err)
	assert.Equal(t, "req_r1", got.ID)

	_, err = st.GetByRequestID(ctx, "alice", "r2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTenantIsolation(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	// Same request id for two tenants yields two independent records.
	_, err := st.Add(ctx, "alice", "r1", map[string]any{"fileName": "alice.pdf"})
	require.NoError(t, err)
	_, err = st.Add(ctx, "bob", "r1", map[string]any{"fileName": "bob.pdf"})
	require.NoError(t, err)

	aliceRec, err := st.Get(ctx, "alice", "req_r1")
	require.NoError(t, err)
	assert.Equal(t, "alice.pdf", aliceRec.Payload["fileName"])

	bobRec, err := st.Get(ctx, "bob", "req_r1")
	require.NoError(t, err)
	assert.Equal(t, "bob.pdf", bobRec.Payload["fileName"])

	// Bob's listing never contains Alice's record.
	bobAll, err := st.GetAll(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, bobAll, 1)
	assert.Equal(t, "bob", bobAll[0].Owner)

	// Bob deleting r1 leaves Alice's record alone.
	existed, err := st.Delete(ctx, "bob", "req_r1")
	require.NoError(t, err)
	assert.True(t, existed)

	_, err = st.Get(ctx, "alice", "req_r1")
	assert.NoError(t, err)
}

func TestGet_NoPrefixCollision(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	_, err := st.Add(ctx, "alice", "r1", map[string]any{"fileName": "one.pdf"})
	require.NoError(t, err)
	_, err = st.Add(ctx, "alice", "r12", map[string]any{"fileName": "twelve.pdf"})
	require.NoError(t, err)

	got, err := st.Get(ctx, "alice", "req_r1")
	require.NoError(t, err)
	assert.Equal(t, "one.pdf", got.Payload["fileName"])

	// Deleting req_r1 must not take req_r12 with it.
	existed, err := st.Delete(ctx, "alice", "req_r1")
	require.NoError(t, err)
	assert.True(t, existed)

	got, err = st.Get(ctx, "alice", "req_r12")
	require.NoError(t, err)
	assert.Equal(t, "twelve.pdf", got.Payload["fileName"])
}

func TestGet_OwnerMismatchIsNotFound(t *testing.T) {
	st, mem := newTestStore(t)
	ctx := context.Background()

	// An object under Alice's prefix whose body claims another owner must
	// behave as if it does not exist.
	rec := &Record{ID: "req_r1", Owner: "bob", RequestID: "r1", CreatedAt: time.Now().UTC(), Processing: true}
	body, err := rec.MarshalJSON()
	require.NoError(t, err)
	_, err = mem.Put(ctx, "analysis-records/tenant_alice/req_r1.json", body)
	require.NoError(t, err)

	_, err = st.Get(ctx, "alice", "req_r1")
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := st.GetAll(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestVersionCollapse_LatestUploadWins(t *testing.T) {
	st, mem := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	mem.SetClock(func() time.Time { return base })
	_, err := st.Add(ctx, "alice", "r1", nil)
	require.NoError(t, err)

	// A version uploaded at t+2m, written second.
	mem.SetClock(func() time.Time { return base.Add(2 * time.Minute) })
	_, err = st.MarkCompleted(ctx, "alice", "req_r1", map[string]any{"summary": "done"})
	require.NoError(t, err)

	// A version uploaded at t+1m, written third. Wall-clock order, not call
	// order, decides which version a read sees.
	mem.SetClock(func() time.Time { return base.Add(1 * time.Minute) })
	_, err = st.Update(ctx, "alice", "req_r1", map[string]any{"note": "late writer"})
	require.NoError(t, err)

	assert.Equal(t, 3, mem.Len())

	got, err := st.Get(ctx, "alice", "req_r1")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, got.State())
	assert.Equal(t, "done", got.Payload["summary"])
	assert.NotContains(t, got.Payload, "note")
}

func TestGetAll_CollapsesVersionsAndSortsNewestFirst(t *testing.T) {
	st, mem := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	st.now = func() time.Time { return base }
	mem.SetClock(func() time.Time { return base })
	_, err := st.Add(ctx, "alice", "r1", nil)
	require.NoError(t, err)

	st.now = func() time.Time { return base.Add(time.Minute) }
	mem.SetClock(func() time.Time { return base.Add(time.Minute) })
	_, err = st.Add(ctx, "alice", "r2", nil)
	require.NoError(t, err)

	mem.SetClock(func() time.Time { return base.Add(2 * time.Minute) })
	_, err = st.MarkFailed(ctx, "alice", "req_r1", "llm unavailable")
	require.NoError(t, err)

	// Three physical objects, two logical records.
	assert.Equal(t, 3, mem.Len())

	all, err := st.GetAll(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "req_r2", all[0].ID, "newest created first")
	assert.Equal(t, "req_r1", all[1].ID)
	assert.Equal(t, StateFailed, all[1].State())
}

func TestUpdate_MergesAndKeepsHeaderImmutable(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	_, err := st.Add(ctx, "alice", "r1", map[string]any{"fileName": "10k.pdf"})
	require.NoError(t, err)

	got, err := st.Update(ctx, "alice", "req_r1", map[string]any{
		"note":      "checked",
		"id":        "req_other",
		"user_id":   "mallory",
		"requestId": "r9",
		"createdAt": "2001-01-01T00:00:00Z",
	})
	require.NoError(t, err)
	assert.Equal(t, "req_r1", got.ID)
	assert.Equal(t, "alice", got.Owner)
	assert.Equal(t, "r1", got.RequestID)
	assert.Equal(t, "checked", got.Payload["note"])
	assert.Equal(t, "10k.pdf", got.Payload["fileName"], "unrelated payload survives the merge")
}

func TestUpdate_NormalizesLifecycle(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	_, err := st.Add(ctx, "alice", "r1", nil)
	require.NoError(t, err)

	// Contradictory flags: the error wins.
	got, err := st.Update(ctx, "alice", "req_r1", map[string]any{
		"processed": true,
		"error":     "boom",
	})
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.State())
	assert.False(t, got.Processed)
	assert.False(t, got.Processing)

	_, err = st.Update(ctx, "alice", "req_r1", map[string]any{
		"error":     "",
		"processed": true,
	})
	require.NoError(t, err)

	got, err = st.Get(ctx, "alice", "req_r1")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, got.State())
	assert.False(t, got.Processing)
}

func TestUpdate_NotFound(t *testing.T) {
	st, _ := newTestStore(t)

	_, err := st.Update(context.Background(), "alice", "req_missing", map[string]any{"x": 1})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkCompleted(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	_, err := st.Add(ctx, "alice", "r1", nil)
	require.NoError(t, err)

	rec, err := st.MarkCompleted(ctx, "alice", "req_r1", map[string]any{
		"summary":   "solid quarter",
		"sentiment": "positive",
	})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, rec.State())
	assert.Equal(t, "solid quarter", rec.Payload["summary"])

	got, err := st.Get(ctx, "alice", "req_r1")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, got.State())
	assert.Empty(t, got.Error)
}

func TestMarkFailed(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	_, err := st.Add(ctx, "alice", "r1", nil)
	require.NoError(t, err)

	rec, err := st.MarkFailed(ctx, "alice", "req_r1", "llm timeout")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, rec.State())
	assert.Equal(t, "llm timeout", rec.Error)
}

func TestMarkFailed_DefaultMessage(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	_, err := st.Add(ctx, "alice", "r1", nil)
	require.NoError(t, err)

	rec, err := st.MarkFailed(ctx, "alice", "req_r1", "")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, rec.State())
	assert.NotEmpty(t, rec.Error)
}

func TestMarkCompleted_ClearsEarlierFailure(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	_, err := st.Add(ctx, "alice", "r1", nil)
	require.NoError(t, err)
	_, err = st.MarkFailed(ctx, "alice", "req_r1", "transient")
	require.NoError(t, err)

	rec, err := st.MarkCompleted(ctx, "alice", "req_r1", map[string]any{"summary": "retried fine"})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, rec.State())
	assert.Empty(t, rec.Error)
}

func TestDelete_RemovesAllVersions(t *testing.T) {
	st, mem := newTestStore(t)
	ctx := context.Background()

	_, err := st.Add(ctx, "alice", "r1", nil)
	require.NoError(t, err)
	_, err = st.Update(ctx, "alice", "req_r1", map[string]any{"note": "v2"})
	require.NoError(t, err)
	_, err = st.MarkCompleted(ctx, "alice", "req_r1", nil)
	require.NoError(t, err)
	require.Equal(t, 3, mem.Len())

	existed, err := st.Delete(ctx, "alice", "req_r1")
	require.NoError(t, err)
	assert.True(t, existed)

	// No physical version remains, so nothing can resurrect on a later read.
	assert.Equal(t, 0, mem.Len())
	_, err = st.Get(ctx, "alice", "req_r1")
	assert.ErrorIs(t, err, ErrNotFound)

	existed, err = st.Delete(ctx, "alice", "req_r1")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestDeleteStale(t *testing.T) {
	st, mem := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// An hour-old abandoned record and an hour-old completed one.
	st.now = func() time.Time { return base.Add(-time.Hour) }
	mem.SetClock(func() time.Time { return base.Add(-time.Hour) })
	_, err := st.Add(ctx, "alice", "stuck", nil)
	require.NoError(t, err)
	_, err = st.Add(ctx, "alice", "old-done", nil)
	require.NoError(t, err)
	mem.SetClock(func() time.Time { return base.Add(-time.Hour + time.Second) })
	_, err = st.MarkCompleted(ctx, "alice", "req_old-done", nil)
	require.NoError(t, err)

	// A fresh in-flight record.
	st.now = func() time.Time { return base }
	mem.SetClock(func() time.Time { return base })
	_, err = st.Add(ctx, "alice", "fresh", nil)
	require.NoError(t, err)

	deleted, err := st.DeleteStale(ctx, "alice", 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = st.Get(ctx, "alice", "req_stuck")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = st.Get(ctx, "alice", "req_old-done")
	assert.NoError(t, err, "completed records are never swept")
	_, err = st.Get(ctx, "alice", "req_fresh")
	assert.NoError(t, err, "young processing records are never swept")

	// The sweep is idempotent.
	deleted, err = st.DeleteStale(ctx, "alice", 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
}

func TestClearUser(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	_, err := st.Add(ctx, "alice", "r1", nil)
	require.NoError(t, err)
	_, err = st.Add(ctx, "alice", "r2", nil)
	require.NoError(t, err)
	_, err = st.Add(ctx, "bob", "r1", nil)
	require.NoError(t, err)

	deleted, err := st.ClearUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	all, err := st.GetAll(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, all)

	bobAll, err := st.GetAll(ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, bobAll, 1)
}

func TestGetStats(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	_, err := st.Add(ctx, "alice", "r1", nil)
	require.NoError(t, err)
	_, err = st.Add(ctx, "alice", "r2", nil)
	require.NoError(t, err)
	_, err = st.Add(ctx, "alice", "r3", nil)
	require.NoError(t, err)
	_, err = st.MarkCompleted(ctx, "alice", "req_r2", nil)
	require.NoError(t, err)
	_, err = st.MarkFailed(ctx, "alice", "req_r3", "boom")
	require.NoError(t, err)

	stats, err := st.GetStats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 3, Processing: 1, Completed: 1, Failed: 1}, stats)

	empty, err := st.GetStats(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, Stats{}, empty)
}
