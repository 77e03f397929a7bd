// Package adapter defines the pluggable judge-adapter contracts and the
// process-global registry that dispatches on URL or capability.
//
// Adapter instances are process-global singletons. They hold no per-call
// state: every operation receives a Context carrying the calling user's
// id, and configuration is read freshly per call through that id. That is
// the only safe way to share one instance across tenants.
package adapter

import (
	"context"

	"github.com/ojobatch/ojo/pkg/models"
	"github.com/ojobatch/ojo/pkg/session"
)

// Capability identifies one optional operation group an adapter declares.
type Capability string

// Capabilities an adapter may declare. Callers must not invoke an
// operation whose capability the adapter does not declare.
const (
	CapFetchProblem    Capability = "fetch_problem"
	CapUploadData      Capability = "upload_data"
	CapSubmitSolution  Capability = "submit_solution"
	CapManageTraining  Capability = "manage_training"
	CapJudgeStatus     Capability = "judge_status"
	CapBatchFetch      Capability = "batch_fetch"
	CapProvideSolution Capability = "provide_solution"
)

// DefaultPriority is the tie-break priority used when an adapter does not
// override it. Range 0-100.
const DefaultPriority = 50

// Adapter is the base contract every judge adapter implements.
// Capability method groups are separate interfaces discovered by type
// assertion; see Fetcher, Uploader, Submitter, TrainingManager, and
// SolutionProvider.
type Adapter interface {
	// Name is the stable registry key and the prefix of canonical
	// problem ids ("codeforces", "hydrooj", "manual", ...).
	Name() string

	// Capabilities lists the operation groups this adapter supports.
	Capabilities() []Capability

	// Priority is the 0-100 tie-break used when several adapters match
	// the same URL or capability.
	Priority() int

	// BaseURL is the judge's public root, used to construct result URLs.
	BaseURL() string

	// Initialize prepares the adapter. Idempotent. On failure the
	// adapter stays registered but operations must fail fast.
	Initialize(cc *Context) error

	// HealthCheck reports current adapter health.
	HealthCheck(ctx context.Context) Health

	// Shutdown releases resources.
	Shutdown() error
}

// Fetcher is the FetchProblem capability group.
type Fetcher interface {
	// SupportsURL reports whether this adapter's fetcher understands
	// the given URL.
	SupportsURL(url string) bool

	// ParseProblemID extracts the origin problem id from a URL or raw
	// input. Returns "" when the input is not recognized.
	ParseProblemID(input string) string

	// ProblemURL builds the canonical problem URL for an origin id.
	ProblemURL(id string) string

	// FetchProblem retrieves and normalizes the statement.
	FetchProblem(ctx context.Context, cc *Context, id string) (*models.ProblemData, error)
}

// UploadResult is the adapter response to a testcase upload.
type UploadResult struct {
	RealID   string         `json:"real_id,omitempty"`
	Created  bool           `json:"created"` // false means an existing remote problem was updated
	Message  string         `json:"message,omitempty"`
	Response map[string]any `json:"response,omitempty"` // raw adapter payload; may carry a nested real_id
}

// Uploader is the UploadData capability group.
type Uploader interface {
	// UploadTestcase pushes the statement and archive to the remote,
	// creating or updating the problem. skipUpdate forces create-only.
	UploadTestcase(ctx context.Context, cc *Context, problemID, archivePath string, auth *session.Auth, skipUpdate bool) (*UploadResult, error)

	// SupportsFormat reports whether an archive format is accepted.
	SupportsFormat(kind string) bool
}

// SubmitResult is the response to a solution submission.
type SubmitResult struct {
	SubmissionID string `json:"submission_id"`
	Status       string `json:"status,omitempty"`
	RecordURL    string `json:"record_url,omitempty"`
	Message      string `json:"message,omitempty"`
}

// SubmissionStatus is one verdict poll result.
type SubmissionStatus struct {
	Status     string         `json:"status"` // normalized verdict: Accepted, Wrong Answer, ...
	Score      int            `json:"score,omitempty"`
	IsAccepted bool           `json:"is_accepted"`
	IsFinal    bool           `json:"is_final"` // false while the judge is still running
	ErrorText  string         `json:"error_text,omitempty"`
	Raw        map[string]any `json:"raw,omitempty"`
}

// Submitter is the SubmitSolution capability group.
type Submitter interface {
	// Authenticate logs in with the calling user's stored credentials
	// and returns a reusable auth (token + cookie session).
	Authenticate(ctx context.Context, cc *Context) (*session.Auth, error)

	// SubmitSolution submits code for a remote problem id.
	SubmitSolution(ctx context.Context, cc *Context, problemID, code, languageKey string, auth *session.Auth) (*SubmitResult, error)

	// GetSubmissionStatus polls one submission's verdict.
	GetSubmissionStatus(ctx context.Context, cc *Context, submissionID string, auth *session.Auth) (*SubmissionStatus, error)

	// SupportedLanguages lists the judge's language keys.
	SupportedLanguages() []string

	// DefaultLanguage picks a language key for a hint like "C++".
	DefaultLanguage(hint string) string
}

// TrainingManager is the ManageTraining capability group.
type TrainingManager interface {
	CreateTraining(ctx context.Context, cc *Context, title, description string) (string, error)
	AddProblems(ctx context.Context, cc *Context, trainingID string, problemIDs []string) error
	GetTraining(ctx context.Context, cc *Context, trainingID string) (map[string]any, error)
}

// SolutionData is an editorial or official solution for a problem.
type SolutionData struct {
	Language string `json:"language,omitempty"`
	Code     string `json:"code,omitempty"`
	Text     string `json:"text,omitempty"`
}

// SolutionProvider is the ProvideSolution capability group.
type SolutionProvider interface {
	HasOfficialSolution(ctx context.Context, cc *Context, id string) bool
	FetchSolution(ctx context.Context, cc *Context, id string) (*SolutionData, error)
}

// TitleSearcher is implemented by destinations (the HydroOJ-like family)
// that support the upload short-circuit: an exact-title search against
// the remote. Returns the remote problem id or "" when absent.
type TitleSearcher interface {
	SearchExactTitle(ctx context.Context, cc *Context, title string) (string, error)
}

// HasCapability reports whether the adapter declares cap.
func HasCapability(a Adapter, cap Capability) bool {
	for _, c := range a.Capabilities() {
		if c == cap {
			return true
		}
	}
	return false
}
