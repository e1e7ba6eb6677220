// Package types provides request and response types for the FinSight API.
package types

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/davidchen/finsight/internal/store"
)

// CreateAnalysisRequest starts (or re-joins) an analysis for one filing.
// RequestID is the client-supplied idempotency token: resubmitting with the
// same token never creates a second record.
type CreateAnalysisRequest struct {
	RequestID   string `json:"request_id" validate:"required,min=1,max=128"`
	FileName    string `json:"file_name,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	// Text carries the filing as plain text. Document carries raw bytes
	// (base64 over JSON) for formats that need extraction.
	Text     string `json:"text,omitempty"`
	Document []byte `json:"document,omitempty"`
}

// Validate validates the CreateAnalysisRequest using the validator.
func (r *CreateAnalysisRequest) Validate() error {
	validate := validator.New()
	if err := validate.Struct(r); err != nil {
		return err
	}
	if r.Text == "" && len(r.Document) == 0 {
		return fmt.Errorf("either text or document is required")
	}
	return nil
}

// AnalysisResponse is the API view of one analysis record.
type AnalysisResponse struct {
	ID        string         `json:"id"`
	RequestID string         `json:"request_id"`
	Status    string         `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	Error     string         `json:"error,omitempty"`
	Result    map[string]any `json:"result,omitempty"`
}

// NewAnalysisResponse converts a stored record. The owner field is
// deliberately not exposed: callers only ever see their own records.
func NewAnalysisResponse(rec *store.Record) AnalysisResponse {
	resp := AnalysisResponse{
		ID:        rec.ID,
		RequestID: rec.RequestID,
		Status:    string(rec.State()),
		CreatedAt: rec.CreatedAt,
		Error:     rec.Error,
	}
	if rec.State() == store.StateCompleted {
		resp.Result = rec.Payload
	}
	return resp
}

// MigrateRequest triggers a legacy-record migration pass. There is no owner
// field on purpose: ownerless records are always stamped with the caller's
// own user id, so the request cannot direct writes at another tenant.
type MigrateRequest struct {
	DryRun bool `json:"dry_run"`
}
