package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/davidchen/finsight/internal/blob"
)

// fetchConcurrency bounds parallel body fetches during bulk reads.
const fetchConcurrency = 8

// Store is the tenant-isolated record store. All operations are
// parameterized by owner; the tenant prefix is the only path to a tenant's
// data, and every read re-validates the embedded owner on top of that.
type Store struct {
	client blob.Client
	root   string

	// now is swappable in tests (staleness thresholds).
	now func() time.Time
}

// New creates a Store over the given adapter. root is the top-level key
// prefix all records live under (e.g. "analysis-records").
func New(client blob.Client, root string) *Store {
	return &Store{
		client: client,
		root:   strings.Trim(root, "/"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Stats summarizes a tenant's records by lifecycle state.
type Stats struct {
	Total      int `json:"total"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// tenantPrefix returns the key prefix all of owner's records live under.
func (s *Store) tenantPrefix(owner string) string {
	return fmt.Sprintf("%s/tenant_%s/", s.root, owner)
}

// keyFor returns the canonical physical key for a record id.
func (s *Store) keyFor(owner, id string) string {
	return s.tenantPrefix(owner) + id + ".json"
}

// matchesID reports whether a listed key is a physical version of the record
// with the given id. The store may suffix physical keys on write, so both
// "{id}.json" and "{id}-{suffix}" forms are accepted — but "req_r1" must
// never match "req_r12".
func matchesID(key, prefix, id string) bool {
	rest := strings.TrimPrefix(key, prefix)
	if rest == key {
		return false
	}
	return rest == id+".json" ||
		strings.HasPrefix(rest, id+".") ||
		strings.HasPrefix(rest, id+"-")
}

// Add creates a new record for (owner, requestID) in the Processing state and
// returns the local echo of what was written. It does not read back: the
// adapter gives no read-after-write guarantee, so the echo is authoritative
// for the caller.
func (s *Store) Add(ctx context.Context, owner, requestID string, fields map[string]any) (*Record, error) {
	if owner == "" {
		return nil, &ValidationError{Field: "owner"}
	}
	if requestID == "" {
		return nil, &ValidationError{Field: "requestId"}
	}

	rec := &Record{
		ID:         RecordIDFor(requestID),
		Owner:      owner,
		RequestID:  requestID,
		CreatedAt:  s.now(),
		Processing: true,
		Payload:    make(map[string]any),
	}
	for k, v := range fields {
		if reservedKeys[k] {
			continue
		}
		rec.Payload[k] = v
	}

	if err := s.write(ctx, owner, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Get returns the latest version of the record with the given id, or
// ErrNotFound. An owner mismatch on the stored body is reported as
// ErrNotFound, never as the record.
func (s *Store) Get(ctx context.Context, owner, id string) (*Record, error) {
	if owner == "" {
		return nil, &ValidationError{Field: "owner"}
	}
	if id == "" {
		return nil, &ValidationError{Field: "id"}
	}

	prefix := s.tenantPrefix(owner)
	objects, err := s.client.List(ctx, prefix+id)
	if err != nil {
		return nil, fmt.Errorf("failed to list record versions: %w", err)
	}

	latest, ok := latestVersion(objects, prefix, id)
	if !ok {
		return nil, ErrNotFound
	}

	rec, err := s.fetchRecord(ctx, latest.URL)
	if err != nil {
		return nil, err
	}
	if rec.Owner != owner {
		// Key collision or corruption; do not confirm existence.
		return nil, ErrNotFound
	}
	return rec, nil
}

// GetByRequestID looks up a record by its idempotency token.
func (s *Store) GetByRequestID(ctx context.Context, owner, requestID string) (*Record, error) {
	if requestID == "" {
		return nil, &ValidationError{Field: "requestId"}
	}
	return s.Get(ctx, owner, RecordIDFor(requestID))
}

// GetAll returns every record under owner's prefix, one entry per logical
// record, newest first. Multiple physical versions of the same key are
// collapsed to the latest UploadedAt before any body is fetched. Individual
// unreadable objects are logged and skipped; partial visibility beats a
// failed listing.
func (s *Store) GetAll(ctx context.Context, owner string) ([]*Record, error) {
	if owner == "" {
		return nil, &ValidationError{Field: "owner"}
	}

	prefix := s.tenantPrefix(owner)
	objects, err := s.client.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenant records: %w", err)
	}

	survivors := collapseByKey(objects)

	var (
		mu      sync.Mutex
		records []*Record
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for _, obj := range survivors {
		g.Go(func() error {
			rec, err := s.fetchRecord(gctx, obj.URL)
			if err != nil {
				log.Printf("[store] skipping unreadable object %s: %v", obj.Key, err)
				return nil
			}
			if rec.Owner != owner {
				log.Printf("[store] dropping owner-mismatched object %s", obj.Key)
				return nil
			}
			mu.Lock()
			records = append(records, rec)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

// Update merges partial fields over the stored record and writes the result
// as a new physical version. This is a read-merge-write, not an atomic
// update: concurrent updates race and the latest upload timestamp wins on
// the next read.
//
// Lifecycle keys in fields ("processing", "processed", "error") are applied
// and then re-normalized so exclusivity holds; prefer MarkCompleted and
// MarkFailed, which make the transition explicit.
func (s *Store) Update(ctx context.Context, owner, id string, fields map[string]any) (*Record, error) {
	rec, err := s.Get(ctx, owner, id)
	if err != nil {
		return nil, err
	}

	for k, v := range fields {
		switch k {
		case "processing":
			if b, ok := v.(bool); ok {
				rec.Processing = b
			}
		case "processed":
			if b, ok := v.(bool); ok {
				rec.Processed = b
			}
		case "error":
			if msg, ok := v.(string); ok {
				rec.Error = msg
			}
		case "id", "user_id", "requestId", "createdAt":
			// Header fields are immutable.
		default:
			rec.Payload[k] = v
		}
	}
	rec.normalize()

	if err := s.write(ctx, owner, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// MarkCompleted transitions the record to Completed, storing result as its
// payload content.
func (s *Store) MarkCompleted(ctx context.Context, owner, id string, result map[string]any) (*Record, error) {
	rec, err := s.Get(ctx, owner, id)
	if err != nil {
		return nil, err
	}

	for k, v := range result {
		if reservedKeys[k] {
			continue
		}
		rec.Payload[k] = v
	}
	rec.Processed = true
	rec.Processing = false
	rec.Error = ""

	if err := s.write(ctx, owner, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// MarkFailed transitions the record to Failed with the given message.
func (s *Store) MarkFailed(ctx context.Context, owner, id, message string) (*Record, error) {
	if message == "" {
		message = "analysis failed"
	}
	rec, err := s.Get(ctx, owner, id)
	if err != nil {
		return nil, err
	}

	rec.Error = message
	rec.Processed = false
	rec.Processing = false

	if err := s.write(ctx, owner, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Delete removes every physical version of the record. Updates never
// overwrite in place, so deleting only the latest version would let an older
// one resurrect on the next listing. Returns whether anything existed.
func (s *Store) Delete(ctx context.Context, owner, id string) (bool, error) {
	if owner == "" {
		return false, &ValidationError{Field: "owner"}
	}
	if id == "" {
		return false, &ValidationError{Field: "id"}
	}

	prefix := s.tenantPrefix(owner)
	objects, err := s.client.List(ctx, prefix+id)
	if err != nil {
		return false, fmt.Errorf("failed to list record versions: %w", err)
	}

	existed := false
	for _, obj := range objects {
		if !matchesID(obj.Key, prefix, id) {
			continue
		}
		if err := s.client.Delete(ctx, obj.URL); err != nil {
			return existed, fmt.Errorf("failed to delete version %s: %w", obj.Key, err)
		}
		existed = true
	}
	return existed, nil
}

// DeleteStale removes Processing records older than maxAge. Such records are
// presumed abandoned and must not be surfaced as in-progress. The sweep is
// idempotent: a second immediate run deletes nothing.
func (s *Store) DeleteStale(ctx context.Context, owner string, maxAge time.Duration) (int, error) {
	records, err := s.GetAll(ctx, owner)
	if err != nil {
		return 0, err
	}

	cutoff := s.now().Add(-maxAge)
	deleted := 0
	for _, rec := range records {
		if rec.State() != StateProcessing {
			continue
		}
		if rec.CreatedAt.After(cutoff) {
			continue
		}
		existed, err := s.Delete(ctx, owner, rec.ID)
		if err != nil {
			log.Printf("[store] stale sweep failed for %s: %v", rec.ID, err)
			continue
		}
		if existed {
			deleted++
		}
	}
	return deleted, nil
}

// ClearUser deletes every record owned by owner and returns the count.
func (s *Store) ClearUser(ctx context.Context, owner string) (int, error) {
	records, err := s.GetAll(ctx, owner)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, rec := range records {
		existed, err := s.Delete(ctx, owner, rec.ID)
		if err != nil {
			return deleted, err
		}
		if existed {
			deleted++
		}
	}
	return deleted, nil
}

// GetStats summarizes owner's records by state.
func (s *Store) GetStats(ctx context.Context, owner string) (Stats, error) {
	records, err := s.GetAll(ctx, owner)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Total: len(records)}
	for _, rec := range records {
		switch rec.State() {
		case StateProcessing:
			stats.Processing++
		case StateCompleted:
			stats.Completed++
		case StateFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// write persists rec as a new physical version. The key is re-derived from
// the stored requestID when present, so updates to records created before
// the current id format still land on their original key.
func (s *Store) write(ctx context.Context, owner string, rec *Record) error {
	id := rec.ID
	if rec.RequestID != "" {
		id = RecordIDFor(rec.RequestID)
	}

	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record %s: %w", id, err)
	}

	if _, err := s.client.Put(ctx, s.keyFor(owner, id), body); err != nil {
		return fmt.Errorf("failed to write record %s: %w", id, err)
	}
	return nil
}

// fetchRecord loads and parses one record body.
func (s *Store) fetchRecord(ctx context.Context, url string) (*Record, error) {
	body, err := s.client.Fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch record body: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse record body: %w", err)
	}
	return &rec, nil
}

// latestVersion picks the physical version of id with the newest UploadedAt.
// Ordering is by upload timestamp only, never by call order.
func latestVersion(objects []blob.Object, prefix, id string) (blob.Object, bool) {
	var latest blob.Object
	found := false
	for _, obj := range objects {
		if !matchesID(obj.Key, prefix, id) {
			continue
		}
		if !found || obj.UploadedAt.After(latest.UploadedAt) {
			latest = obj
			found = true
		}
	}
	return latest, found
}

// collapseByKey reduces a listing to one object per distinct key, keeping
// the latest UploadedAt. This is the version-collapse fold every bulk read
// runs before touching object bodies.
func collapseByKey(objects []blob.Object) []blob.Object {
	byKey := make(map[string]blob.Object, len(objects))
	for _, obj := range objects {
		cur, ok := byKey[obj.Key]
		if !ok || obj.UploadedAt.After(cur.UploadedAt) {
			byKey[obj.Key] = obj
		}
	}

	out := make([]blob.Object, 0, len(byKey))
	for _, obj := range byKey {
		out = append(out, obj)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
