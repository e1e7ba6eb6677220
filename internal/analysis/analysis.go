// Package analysis runs the guarded "analyze this filing" workflow: it
// creates the Processing record, calls the LLM, and writes the Completed or
// Failed result. The idempotency guard in front of it makes retried and
// duplicated submissions for the same request id converge on one record.
package analysis

import "context"

// Analyzer produces a structured analysis payload from extracted filing
// text. The LLM client satisfies this; the workflow treats the payload as
// opaque beyond schema validation.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (map[string]any, error)
}

// Extractor turns an uploaded document into plain text. PDF extraction lives
// behind this interface; the workflow never inspects document bytes itself.
type Extractor interface {
	Extract(ctx context.Context, data []byte, contentType string) (string, error)
}

// PlainTextExtractor treats the uploaded bytes as UTF-8 text. It is the
// fallback for text/plain submissions and the default in tests.
type PlainTextExtractor struct{}

// Extract returns the document bytes as a string.
func (PlainTextExtractor) Extract(_ context.Context, data []byte, _ string) (string, error) {
	return string(data), nil
}

// Submission is one logical "analyze this filing" unit of work.
type Submission struct {
	FileName    string
	ContentType string
	Document    []byte

	// Text short-circuits extraction when the caller already has plain text.
	Text string
}

// Status describes how the guard resolved a submission.
type Status string

const (
	// StatusStarted means a new record was created and work began.
	StatusStarted Status = "started"
	// StatusInProgress means an earlier submission with the same request id
	// is still being processed; no new work was started.
	StatusInProgress Status = "in_progress"
	// StatusDuplicate means a completed record already existed and was
	// returned as-is.
	StatusDuplicate Status = "duplicate"
)
