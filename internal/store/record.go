// Package store implements the tenant-isolated analysis record store on top
// of the blob adapter. Records are namespaced by owner under
// {root}/tenant_{owner}/ and identified by id = "req_" + requestID. The
// adapter has no atomic overwrite, so one logical record may be represented
// by several physical objects; every read collapses them to the latest by
// upload timestamp.
package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// State is the lifecycle state of a record. Exactly one state holds at any
// point in a record's life.
type State string

const (
	// StateProcessing means the analysis was started and has not finished.
	StateProcessing State = "processing"
	// StateCompleted means the analysis finished and its result is stored.
	StateCompleted State = "completed"
	// StateFailed means the analysis ended with an error.
	StateFailed State = "failed"
)

// Record is one analysis job/result. The header fields (ID, Owner, RequestID,
// CreatedAt) are immutable after creation; lifecycle fields change only
// through MarkCompleted/MarkFailed (or the Update compatibility shim, which
// re-normalizes them). Payload holds the analysis content and is opaque to
// the store.
type Record struct {
	ID        string
	Owner     string
	RequestID string
	CreatedAt time.Time

	Processing bool
	Processed  bool
	Error      string

	Payload map[string]any
}

// reserved keys managed by the store itself; everything else in a record's
// JSON body belongs to Payload.
var reservedKeys = map[string]bool{
	"id":         true,
	"user_id":    true,
	"requestId":  true,
	"createdAt":  true,
	"processing": true,
	"processed":  true,
	"error":      true,
}

// RecordIDFor derives the stable record id from a request id.
func RecordIDFor(requestID string) string {
	return "req_" + requestID
}

// State returns the record's current lifecycle state.
func (r *Record) State() State {
	switch {
	case r.Error != "":
		return StateFailed
	case r.Processed:
		return StateCompleted
	default:
		return StateProcessing
	}
}

// normalize enforces lifecycle exclusivity after any field merge: a set
// error wins over processed, and a completed record is never processing.
func (r *Record) normalize() {
	if r.Error != "" {
		r.Processed = false
		r.Processing = false
		return
	}
	if r.Processed {
		r.Processing = false
	}
}

// MarshalJSON flattens Payload into the same JSON object as the header and
// lifecycle fields, matching the persisted layout contract.
func (r Record) MarshalJSON() ([]byte, error) {
	body := make(map[string]any, len(r.Payload)+7)
	for k, v := range r.Payload {
		if reservedKeys[k] {
			continue
		}
		body[k] = v
	}
	body["id"] = r.ID
	body["user_id"] = r.Owner
	body["requestId"] = r.RequestID
	body["createdAt"] = r.CreatedAt.UTC().Format(time.RFC3339Nano)
	body["processing"] = r.Processing
	body["processed"] = r.Processed
	if r.Error != "" {
		body["error"] = r.Error
	}
	return json.Marshal(body)
}

// UnmarshalJSON splits a stored body back into header, lifecycle and payload.
func (r *Record) UnmarshalJSON(data []byte) error {
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		return fmt.Errorf("failed to parse record body: %w", err)
	}

	if v, ok := body["id"].(string); ok {
		r.ID = v
	}
	if v, ok := body["user_id"].(string); ok {
		r.Owner = v
	}
	if v, ok := body["requestId"].(string); ok {
		r.RequestID = v
	}
	if v, ok := body["createdAt"].(string); ok {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return fmt.Errorf("invalid createdAt %q: %w", v, err)
		}
		r.CreatedAt = t
	}
	if v, ok := body["processing"].(bool); ok {
		r.Processing = v
	}
	if v, ok := body["processed"].(bool); ok {
		r.Processed = v
	}
	if v, ok := body["error"].(string); ok {
		r.Error = v
	}

	r.Payload = make(map[string]any)
	for k, v := range body {
		if reservedKeys[k] {
			continue
		}
		r.Payload[k] = v
	}
	return nil
}
