package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
)

// MigrationMove describes one legacy object relocated (or, in dry-run mode,
// that would be relocated) into the tenant-isolated layout.
type MigrationMove struct {
	FromKey string `json:"from_key"`
	ToKey   string `json:"to_key"`
	Owner   string `json:"owner"`
}

// MigrationReport summarizes a migration pass. Skipped counts legacy objects
// left in place because their scoped copy already exists; objects already
// under a tenant prefix are not part of the migration and are not counted.
type MigrationReport struct {
	DryRun  bool            `json:"dry_run"`
	Moves   []MigrationMove `json:"moves"`
	Skipped int             `json:"skipped"`
	Failed  int             `json:"failed"`
}

// isLegacyKey reports whether a key under root predates tenant namespacing:
// it has no tenant_ segment.
func (s *Store) isLegacyKey(key string) bool {
	rest := strings.TrimPrefix(key, s.root+"/")
	if rest == key {
		return false
	}
	return !strings.HasPrefix(rest, "tenant_")
}

// IsOwnerless reports whether a record predates tenant isolation: either its
// body carries no owner or its physical key lacks the tenant segment.
func (s *Store) IsOwnerless(key string, rec *Record) bool {
	return rec.Owner == "" || s.isLegacyKey(key)
}

// MigrateLegacy moves every legacy record under root into the tenant-isolated
// layout. Records without an embedded owner are stamped with defaultOwner.
// The pass is safe to re-run: already-scoped objects are ignored, and a
// legacy object whose scoped copy already exists (an interrupted earlier
// pass) is only cleaned up, never written twice. With dryRun set, the report
// lists intended moves and nothing is written or deleted.
func (s *Store) MigrateLegacy(ctx context.Context, defaultOwner string, dryRun bool) (*MigrationReport, error) {
	if defaultOwner == "" {
		return nil, &ValidationError{Field: "defaultOwner"}
	}

	objects, err := s.client.List(ctx, s.root+"/")
	if err != nil {
		return nil, fmt.Errorf("failed to list root prefix: %w", err)
	}

	report := &MigrationReport{DryRun: dryRun}
	for _, obj := range collapseByKey(objects) {
		if !s.isLegacyKey(obj.Key) {
			continue
		}

		rec, err := s.fetchRecord(ctx, obj.URL)
		if err != nil {
			log.Printf("[migrate] skipping unreadable legacy object %s: %v", obj.Key, err)
			report.Failed++
			continue
		}

		owner := rec.Owner
		if owner == "" {
			owner = defaultOwner
		}
		rec.Owner = owner

		id := rec.ID
		if rec.RequestID != "" {
			id = RecordIDFor(rec.RequestID)
		}
		if id == "" {
			id = legacyIDFromKey(obj.Key)
		}
		rec.ID = id

		// An interrupted earlier pass may have written the scoped copy
		// without removing the original. Finish the move instead of writing
		// a second version.
		if _, err := s.Get(ctx, owner, id); err == nil {
			if !dryRun {
				if err := s.client.Delete(ctx, obj.URL); err != nil {
					log.Printf("[migrate] failed to delete legacy object %s: %v", obj.Key, err)
					report.Failed++
					continue
				}
			}
			report.Skipped++
			continue
		} else if !errors.Is(err, ErrNotFound) {
			report.Failed++
			continue
		}

		move := MigrationMove{FromKey: obj.Key, ToKey: s.keyFor(owner, id), Owner: owner}
		if !dryRun {
			body, err := json.Marshal(rec)
			if err != nil {
				log.Printf("[migrate] failed to marshal %s: %v", obj.Key, err)
				report.Failed++
				continue
			}
			if _, err := s.client.Put(ctx, move.ToKey, body); err != nil {
				log.Printf("[migrate] failed to write %s: %v", move.ToKey, err)
				report.Failed++
				continue
			}
			// Delete the unscoped original only after the scoped copy landed.
			if err := s.client.Delete(ctx, obj.URL); err != nil {
				log.Printf("[migrate] failed to delete legacy object %s: %v", obj.Key, err)
				report.Failed++
				continue
			}
		}
		report.Moves = append(report.Moves, move)
	}
	return report, nil
}

// legacyIDFromKey recovers a usable record id from a pre-migration key like
// "{root}/{file}.json".
func legacyIDFromKey(key string) string {
	base := key
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	return strings.TrimSuffix(base, ".json")
}
