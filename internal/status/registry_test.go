package status

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	apperrors "github.com/spec-kit/ticket-lifecycle/pkg/util/errorutil"
)

type stubLoader struct {
	statuses []domain.TicketStatus
	err      error
}

func (s stubLoader) ListStatuses(context.Context) ([]domain.TicketStatus, error) {
	return s.statuses, s.err
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	statuses := append(Defaults(), domain.TicketStatus{Code: "on_hold", Label: "On Hold", IsActive: false})
	reg, err := NewRegistry(statuses)
	require.NoError(t, err)
	return reg
}

func TestCanonicalize(t *testing.T) {
	reg := newTestRegistry(t)

	cases := map[string]string{
		"OPEN":                      domain.StatusOpen,
		" In Progress ":             domain.StatusInProgress,
		"in-progress":               domain.StatusInProgress,
		"AWAITING_STUDENT_RESPONSE": domain.StatusAwaitingRequester,
		"Pending":                   domain.StatusAwaitingRequester,
		"closed by student":         domain.StatusClosed,
		"Done":                      domain.StatusResolved,
		"something_else":            "something_else",
	}
	for input, want := range cases {
		assert.Equal(t, want, reg.Canonicalize(input), input)
	}
}

func TestResolveRejectsUnknownAndInactive(t *testing.T) {
	reg := newTestRegistry(t)

	st, err := reg.Resolve("Resolved")
	require.NoError(t, err)
	assert.True(t, st.IsFinal)
	assert.True(t, st.IsResolved)

	_, err = reg.Resolve("teleported")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidStatus))

	_, err = reg.Resolve("on hold")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidStatus))

	// inactive statuses are still known for tickets that already carry them
	held, ok := reg.Lookup("on_hold")
	assert.True(t, ok)
	assert.False(t, held.IsActive)
}

func TestFinalCodesAndResolved(t *testing.T) {
	reg := newTestRegistry(t)

	assert.Equal(t, []string{domain.StatusClosed, domain.StatusResolved}, reg.FinalCodes())
	assert.Equal(t, domain.StatusResolved, reg.ResolvedCode())
	assert.True(t, reg.IsFinal(domain.StatusClosed))
	assert.False(t, reg.IsFinal(domain.StatusEscalated))
	assert.False(t, reg.IsFinal("missing"))
	assert.Equal(t, domain.StatusOpen, reg.All()[0].Code)
}

func TestNewRegistryValidates(t *testing.T) {
	_, err := NewRegistry([]domain.TicketStatus{{Code: "open", IsActive: true}})
	require.Error(t, err, "reopened is required")

	twoResolved := append(Defaults(), domain.TicketStatus{Code: "archived", IsFinal: true, IsResolved: true})
	_, err = NewRegistry(twoResolved)
	require.Error(t, err)

	notFinal := append(Defaults(), domain.TicketStatus{Code: "half", IsResolved: true})
	_, err = NewRegistry(notFinal)
	require.Error(t, err)

	var noResolved []domain.TicketStatus
	for _, st := range Defaults() {
		st.IsResolved = false
		noResolved = append(noResolved, st)
	}
	_, err = NewRegistry(noResolved)
	require.Error(t, err)
}

func TestLoadAndReload(t *testing.T) {
	reg, err := Load(context.Background(), stubLoader{statuses: Defaults()})
	require.NoError(t, err)
	_, ok := reg.Lookup("on_hold")
	assert.False(t, ok)

	err = reg.Reload(context.Background(), stubLoader{statuses: append(Defaults(), domain.TicketStatus{Code: "on_hold"})})
	require.NoError(t, err)
	_, ok = reg.Lookup("on_hold")
	assert.True(t, ok)

	err = reg.Reload(context.Background(), stubLoader{err: errors.New("db down")})
	require.Error(t, err)
	_, ok = reg.Lookup("on_hold")
	assert.True(t, ok, "failed reload keeps the previous table")
}
