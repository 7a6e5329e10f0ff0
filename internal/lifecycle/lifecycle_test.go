package lifecycle

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/ireporter/internal/models"
	appErrors "github.com/noah-isme/ireporter/pkg/errors"
)

func TestTransitionTable(t *testing.T) {
	allowed := map[[2]models.ReportStatus]bool{
		{models.StatusDraft, models.StatusUnderInvestigation}:    true,
		{models.StatusDraft, models.StatusResolved}:              true,
		{models.StatusDraft, models.StatusRejected}:              true,
		{models.StatusUnderInvestigation, models.StatusResolved}: true,
		{models.StatusUnderInvestigation, models.StatusRejected}: true,
	}

	for _, from := range States {
		for _, to := range States {
			err := CheckTransition(from, to, models.RoleAdmin)
			if allowed[[2]models.ReportStatus{from, to}] {
				assert.NoError(t, err, "%s -> %s", from, to)
				assert.True(t, CanTransition(from, to))
				continue
			}
			require.Error(t, err, "%s -> %s", from, to)
			assert.True(t, errors.Is(err, appErrors.ErrInvalidTransition), "%s -> %s", from, to)
		}
	}
}

func TestCheckTransitionRequiresAdmin(t *testing.T) {
	err := CheckTransition(models.StatusDraft, models.StatusResolved, models.RoleCitizen)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrPermission))
}

func TestTerminalStates(t *testing.T) {
	assert.True(t, Terminal(models.StatusResolved))
	assert.True(t, Terminal(models.StatusRejected))
	assert.False(t, Terminal(models.StatusDraft))
	assert.Empty(t, Next(models.StatusResolved))
	assert.Equal(t, []models.ReportStatus{models.StatusResolved, models.StatusRejected}, Next(models.StatusUnderInvestigation))
}

func TestNextReturnsCopy(t *testing.T) {
	next := Next(models.StatusDraft)
	next[0] = models.StatusRejected
	assert.Equal(t, models.StatusUnderInvestigation, Next(models.StatusDraft)[0])
}

func TestCheckContentChange(t *testing.T) {
	author := Actor{UserID: "u-1", Role: models.RoleCitizen}
	draft := &models.Report{ID: "7", AuthorID: "u-1", Status: models.StatusDraft}
	require.NoError(t, CheckContentChange(draft, author))

	resolved := &models.Report{ID: "7", AuthorID: "u-1", Status: models.StatusResolved}
	err := CheckContentChange(resolved, author)
	assert.True(t, errors.Is(err, appErrors.ErrPermission))

	stranger := Actor{UserID: "u-2", Role: models.RoleCitizen}
	err = CheckContentChange(draft, stranger)
	assert.True(t, errors.Is(err, appErrors.ErrPermission))

	admin := Actor{UserID: "admin-1", Role: models.RoleAdmin}
	err = CheckContentChange(draft, admin)
	assert.True(t, errors.Is(err, appErrors.ErrPermission))

	err = CheckContentChange(draft, Actor{})
	assert.True(t, errors.Is(err, appErrors.ErrPermission))
}

func TestAllowed(t *testing.T) {
	draft := &models.Report{AuthorID: "u-1", Status: models.StatusDraft}

	own := Allowed(draft, Actor{UserID: "u-1", Role: models.RoleCitizen})
	assert.True(t, own.Edit)
	assert.True(t, own.Delete)
	assert.True(t, own.AttachMedia)
	assert.Empty(t, own.StatusTargets)

	admin := Allowed(draft, Actor{UserID: "admin-1", Role: models.RoleAdmin})
	assert.False(t, admin.Edit)
	assert.Len(t, admin.StatusTargets, 3)

	assert.Equal(t, Actions{}, Allowed(nil, Actor{UserID: "u-1"}))
}
