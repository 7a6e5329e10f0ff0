// Package lifecycle holds the report status state machine and the content
// mutability rules consulted by both the server and the client.
package lifecycle

import (
	"fmt"

	"github.com/noah-isme/ireporter/internal/models"
	appErrors "github.com/noah-isme/ireporter/pkg/errors"
)

var edges = map[models.ReportStatus][]models.ReportStatus{
	models.StatusDraft: {
		models.StatusUnderInvestigation,
		models.StatusResolved,
		models.StatusRejected,
	},
	models.StatusUnderInvestigation: {
		models.StatusResolved,
		models.StatusRejected,
	},
}

// States lists every status in lifecycle order.
var States = []models.ReportStatus{
	models.StatusDraft,
	models.StatusUnderInvestigation,
	models.StatusResolved,
	models.StatusRejected,
}

// Next returns the statuses reachable from the given one.
func Next(from models.ReportStatus) []models.ReportStatus {
	return append([]models.ReportStatus(nil), edges[from]...)
}

// Terminal reports whether no transition leaves the status.
func Terminal(s models.ReportStatus) bool {
	return len(edges[s]) == 0
}

// CanTransition reports whether from -> to is an edge.
func CanTransition(from, to models.ReportStatus) bool {
	for _, candidate := range edges[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// CheckTransition validates a status change requested by an actor with the
// given role. Only administrators move reports; the role is checked first.
func CheckTransition(from, to models.ReportStatus, role models.UserRole) error {
	if role != models.RoleAdmin {
		return appErrors.Clone(appErrors.ErrPermission, "only administrators can change report status")
	}
	if !CanTransition(from, to) {
		return appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot move report from %s to %s", from, to))
	}
	return nil
}

// Actor identifies who is acting on a report.
type Actor struct {
	UserID string
	Role   models.UserRole
}

// CheckContentChange validates an edit, delete or media attachment. Content
// stays mutable only while the report is a draft and only for its author.
func CheckContentChange(report *models.Report, actor Actor) error {
	if report == nil {
		return appErrors.Clone(appErrors.ErrNotFound, "report not found")
	}
	if actor.UserID == "" || report.AuthorID != actor.UserID {
		return appErrors.Clone(appErrors.ErrPermission, "only the author can change this report")
	}
	if report.Status != models.StatusDraft {
		return appErrors.Clone(appErrors.ErrPermission, fmt.Sprintf("report is %s and can no longer be changed", report.Status.Label()))
	}
	return nil
}

// Actions summarises what an actor may do with a report.
type Actions struct {
	Edit          bool
	Delete        bool
	AttachMedia   bool
	StatusTargets []models.ReportStatus
}

// Allowed computes the legal actions for the actor on the report.
func Allowed(report *models.Report, actor Actor) Actions {
	var out Actions
	if report == nil {
		return out
	}
	if CheckContentChange(report, actor) == nil {
		out.Edit = true
		out.Delete = true
		out.AttachMedia = true
	}
	if actor.Role == models.RoleAdmin {
		out.StatusTargets = Next(report.Status)
	}
	return out
}
