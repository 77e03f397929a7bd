package models

import "time"

// ProcessingStatus records per-stage outcomes for one problem workspace.
// It is persisted as processing_status.json and merged on every update so
// that a retry of a single module does not clobber earlier results.
type ProcessingStatus struct {
	LastStage        string            `json:"last_stage,omitempty"`
	OkFetch          bool              `json:"ok_fetch"`
	OkGen            bool              `json:"ok_gen"`
	OkUpload         bool              `json:"ok_upload"`
	OkSolve          bool              `json:"ok_solve"`
	ValidationPassed bool              `json:"validation_passed"`
	FetchedAt        *time.Time        `json:"fetched_at,omitempty"`
	GeneratedAt      *time.Time        `json:"generated_at,omitempty"`
	UploadedAt       *time.Time        `json:"uploaded_at,omitempty"`
	SolvedAt         *time.Time        `json:"solved_at,omitempty"`
	UploadRealIDs    map[string]string `json:"upload_real_ids,omitempty"` // adapter name → remote problem id
}

// Completed reports whether the artifact set is AC-confirmed.
// An AC-confirmed workspace may be reused wholesale and is protected
// from background deletion.
func (s ProcessingStatus) Completed() bool {
	return s.OkSolve
}

// StatusPatch is a partial update merged into ProcessingStatus.
// Nil fields are left untouched.
type StatusPatch struct {
	LastStage        *string
	OkFetch          *bool
	OkGen            *bool
	OkUpload         *bool
	OkSolve          *bool
	ValidationPassed *bool
	FetchedAt        *time.Time
	GeneratedAt      *time.Time
	UploadedAt       *time.Time
	SolvedAt         *time.Time
}

// Apply merges the patch into the status.
func (p StatusPatch) Apply(s *ProcessingStatus) {
	if p.LastStage != nil {
		s.LastStage = *p.LastStage
	}
	if p.OkFetch != nil {
		s.OkFetch = *p.OkFetch
	}
	if p.OkGen != nil {
		s.OkGen = *p.OkGen
	}
	if p.OkUpload != nil {
		s.OkUpload = *p.OkUpload
	}
	if p.OkSolve != nil {
		s.OkSolve = *p.OkSolve
	}
	if p.ValidationPassed != nil {
		s.ValidationPassed = *p.ValidationPassed
	}
	if p.FetchedAt != nil {
		s.FetchedAt = p.FetchedAt
	}
	if p.GeneratedAt != nil {
		s.GeneratedAt = p.GeneratedAt
	}
	if p.UploadedAt != nil {
		s.UploadedAt = p.UploadedAt
	}
	if p.SolvedAt != nil {
		s.SolvedAt = p.SolvedAt
	}
}

// Helpers for building patches without intermediate variables.

func BoolPtr(b bool) *bool              { return &b }
func StringPtr(s string) *string        { return &s }
func TimePtr(t time.Time) *time.Time    { return &t }
