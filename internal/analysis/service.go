package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/davidchen/finsight/internal/schemas"
	"github.com/davidchen/finsight/internal/store"
)

// DefaultTimeout bounds one analysis pass, extraction included.
const DefaultTimeout = 4 * time.Minute

// Outcome is the guard's answer for one submission.
type Outcome struct {
	Status Status
	Record *store.Record
}

// Service owns the analysis workflow.
type Service struct {
	store     *store.Store
	analyzer  Analyzer
	extractor Extractor
	timeout   time.Duration

	// writeTimeout bounds the terminal store writes, separately from the
	// run itself.
	writeTimeout time.Duration

	wg sync.WaitGroup
}

// NewService wires the workflow. extractor may be nil, in which case
// submissions are treated as plain text.
func NewService(st *store.Store, analyzer Analyzer, extractor Extractor, timeout time.Duration) *Service {
	if extractor == nil {
		extractor = PlainTextExtractor{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Service{
		store:        st,
		analyzer:     analyzer,
		extractor:    extractor,
		timeout:      timeout,
		writeTimeout: 30 * time.Second,
	}
}

// Begin is the guarded entry point. Before any expensive work it looks up the
// record for (owner, requestID):
//
//   - Completed: returned immediately as a duplicate, no work performed.
//   - Processing: "still working", no duplicate work started.
//   - Failed or absent: a fresh Processing record is written and the
//     extraction+analysis runs in the background; the caller polls.
//
// The store has no compare-and-swap, so two near-simultaneous submissions can
// both reach the create step; the pre-completion re-check in process narrows
// that window to at-most-one-in-practice.
func (s *Service) Begin(ctx context.Context, owner, requestID string, sub Submission) (*Outcome, error) {
	if owner == "" {
		return nil, &store.ValidationError{Field: "owner"}
	}
	if requestID == "" {
		return nil, &store.ValidationError{Field: "requestId"}
	}

	existing, err := s.store.GetByRequestID(ctx, owner, requestID)
	if err == nil {
		switch existing.State() {
		case store.StateCompleted:
			return &Outcome{Status: StatusDuplicate, Record: existing}, nil
		case store.StateProcessing:
			return &Outcome{Status: StatusInProgress, Record: existing}, nil
		case store.StateFailed:
			// A failed attempt may be retried; fall through to re-create.
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	rec, err := s.store.Add(ctx, owner, requestID, map[string]any{
		"fileName": sub.FileName,
	})
	if err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// Detached from the request context: a client timeout must not
		// cancel the analysis, the client polls the record instead.
		s.process(context.Background(), owner, rec.ID, sub)
	}()

	return &Outcome{Status: StatusStarted, Record: rec}, nil
}

// Wait blocks until all in-flight analyses finish. Used on shutdown and in
// tests.
func (s *Service) Wait() {
	s.wg.Wait()
}

// process runs extraction and analysis for one record and writes the
// terminal state. A failure is always recorded: a record must never stay
// Processing after its workflow ended.
func (s *Service) process(ctx context.Context, owner, id string, sub Submission) {
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	result, err := s.run(runCtx, sub)
	cancel()

	// The write deadline starts after the run: a run that consumed its whole
	// budget must still get its terminal state written, otherwise the record
	// would look Processing forever.
	writeCtx, writeCancel := context.WithTimeout(ctx, s.writeTimeout)
	defer writeCancel()

	if err != nil {
		log.Printf("[analysis] %s failed: %v", id, err)
		if _, ferr := s.store.MarkFailed(writeCtx, owner, id, err.Error()); ferr != nil {
			log.Printf("[analysis] failed to record failure for %s: %v", id, ferr)
		}
		return
	}

	// Second guard pass: if a concurrent submission already completed this
	// request, keep that result instead of writing a competing one.
	if current, err := s.store.Get(writeCtx, owner, id); err == nil && current.State() == store.StateCompleted {
		log.Printf("[analysis] %s already completed by a concurrent worker, dropping result", id)
		return
	}

	if _, err := s.store.MarkCompleted(writeCtx, owner, id, result); err != nil {
		log.Printf("[analysis] failed to record completion for %s: %v", id, err)
	}
}

// run performs the expensive part: extract text, analyze, validate.
func (s *Service) run(ctx context.Context, sub Submission) (map[string]any, error) {
	text := sub.Text
	if text == "" {
		var err error
		text, err = s.extractor.Extract(ctx, sub.Document, sub.ContentType)
		if err != nil {
			return nil, fmt.Errorf("text extraction failed: %w", err)
		}
	}
	if text == "" {
		return nil, fmt.Errorf("submission contains no text")
	}

	result, err := s.analyzer.Analyze(ctx, text)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal analysis result: %w", err)
	}
	if err := schemas.ValidateAnalysisResult(string(raw)); err != nil {
		return nil, fmt.Errorf("analysis result rejected: %w", err)
	}
	return result, nil
}
