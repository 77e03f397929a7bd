package adapter

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/ojobatch/ojo/pkg/models"
)

// ErrManualStatement is returned when a manual problem has no pasted
// statement in its workspace. The fetch stage reuses an existing
// problem_data.json before calling the fetcher, so this only surfaces
// when the user never pasted one.
var ErrManualStatement = errors.New("manual problem has no pasted statement")

var manualMarker = regexp.MustCompile(`^manual_(\d+)$`)

// ManualAdapter handles pasted problems. They carry a "manual_<timestamp>"
// marker instead of an origin URL; the statement arrives through the
// workspace rather than over the network.
type ManualAdapter struct{}

// NewManualAdapter creates the manual adapter.
func NewManualAdapter() *ManualAdapter {
	return &ManualAdapter{}
}

func (m *ManualAdapter) Name() string               { return "manual" }
func (m *ManualAdapter) Capabilities() []Capability { return []Capability{CapFetchProblem} }
func (m *ManualAdapter) Priority() int              { return 10 }
func (m *ManualAdapter) BaseURL() string            { return "" }
func (m *ManualAdapter) Initialize(cc *Context) error {
	return nil
}
func (m *ManualAdapter) HealthCheck(ctx context.Context) Health {
	return Health{Healthy: true, Status: HealthReady}
}
func (m *ManualAdapter) Shutdown() error { return nil }

func (m *ManualAdapter) SupportsURL(url string) bool {
	return manualMarker.MatchString(strings.TrimSpace(url))
}

func (m *ManualAdapter) ParseProblemID(input string) string {
	match := manualMarker.FindStringSubmatch(strings.TrimSpace(input))
	if match == nil {
		return ""
	}
	return match[1]
}

func (m *ManualAdapter) ProblemURL(id string) string {
	return "manual_" + id
}

// FetchProblem always fails: manual statements exist only as pasted
// workspace files, never on a network origin.
func (m *ManualAdapter) FetchProblem(ctx context.Context, cc *Context, id string) (*models.ProblemData, error) {
	return nil, ErrManualStatement
}
