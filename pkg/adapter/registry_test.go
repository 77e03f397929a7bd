package adapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	cc := &Context{}
	require.NoError(t, r.Register(NewManualAdapter(), cc))
	require.NoError(t, r.Register(NewLuoguAdapter(), cc))
	require.NoError(t, r.Register(NewHydroAdapter(), cc))
	return r
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := newTestRegistry(t)
	err := r.Register(NewLuoguAdapter(), &Context{})
	assert.ErrorContains(t, err, "already registered")
}

func TestRegistryNames(t *testing.T) {
	r := newTestRegistry(t)
	assert.Equal(t, []string{"hydro", "luogu", "manual"}, r.Names())
}

func TestFindByURL(t *testing.T) {
	r := newTestRegistry(t)

	a, ok := r.FindByURL("https://www.luogu.com.cn/problem/P1001")
	require.True(t, ok)
	assert.Equal(t, "luogu", a.Name())

	a, ok = r.FindByURL("manual_1700000000000")
	require.True(t, ok)
	assert.Equal(t, "manual", a.Name())

	_, ok = r.FindByURL("https://example.com/unknown")
	assert.False(t, ok)
}

func TestFindByCapability(t *testing.T) {
	r := newTestRegistry(t)

	a, ok := r.FindByCapability(CapUploadData, "")
	require.True(t, ok)
	assert.Equal(t, "hydro", a.Name())

	a, ok = r.FindByCapability(CapFetchProblem, "https://www.luogu.com.cn/problem/P1")
	require.True(t, ok)
	assert.Equal(t, "luogu", a.Name())

	_, ok = r.FindByCapability(CapManageTraining, "")
	assert.False(t, ok)
}

func TestHasCapability(t *testing.T) {
	h := NewHydroAdapter()
	assert.True(t, HasCapability(h, CapSubmitSolution))
	assert.False(t, HasCapability(h, CapFetchProblem))
}

func TestHealthChecks(t *testing.T) {
	for _, a := range []Adapter{NewManualAdapter(), NewLuoguAdapter(), NewHydroAdapter()} {
		h := a.HealthCheck(context.Background())
		assert.True(t, h.Healthy, a.Name())
		assert.Equal(t, HealthReady, h.Status)
	}
}

func TestManualAdapter(t *testing.T) {
	m := NewManualAdapter()

	assert.True(t, m.SupportsURL("manual_1700000000000"))
	assert.False(t, m.SupportsURL("manual_"))
	assert.False(t, m.SupportsURL("P1001"))

	assert.Equal(t, "1700000000000", m.ParseProblemID(" manual_1700000000000 "))
	assert.Equal(t, "", m.ParseProblemID("luogu_P1001"))
	assert.Equal(t, "manual_42", m.ProblemURL("42"))

	_, err := m.FetchProblem(context.Background(), &Context{}, "42")
	assert.ErrorIs(t, err, ErrManualStatement)
}
