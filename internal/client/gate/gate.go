// Package gate decides which client views a session may open and which
// report controls it may use.
package gate

import (
	"strings"

	"github.com/noah-isme/ireporter/internal/lifecycle"
	"github.com/noah-isme/ireporter/internal/models"
)

// Outcome of an access decision.
type Outcome int

const (
	Allow Outcome = iota
	Redirect
	Deny
)

func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case Redirect:
		return "redirect"
	}
	return "deny"
}

// Decision is the result of CanAccess. Path is set for redirects.
type Decision struct {
	Outcome Outcome
	Path    string
}

// Route is a client view. A route without roles is public.
type Route struct {
	Path  string
	Roles []models.UserRole
}

// Public reports whether anyone may open the route.
func (r Route) Public() bool {
	return len(r.Roles) == 0
}

// Well known paths.
const (
	PathHome          = "/"
	PathLogin         = "/login"
	PathSignup        = "/signup"
	PathPasswordReset = "/password-reset"
	PathDashboard     = "/dashboard"
	PathReports       = "/reports"
	PathEditReport    = "/reports/edit"
	PathAdmin         = "/admin"
	PathAdminReports  = "/admin/reports"
)

var routes = []Route{
	{Path: PathHome},
	{Path: PathLogin},
	{Path: PathSignup},
	{Path: PathPasswordReset},
	{Path: PathDashboard, Roles: []models.UserRole{models.RoleCitizen}},
	{Path: PathReports, Roles: []models.UserRole{models.RoleCitizen}},
	{Path: PathEditReport, Roles: []models.UserRole{models.RoleCitizen}},
	{Path: PathAdmin, Roles: []models.UserRole{models.RoleAdmin}},
	{Path: PathAdminReports, Roles: []models.UserRole{models.RoleAdmin}},
}

var landing = map[models.UserRole]string{
	models.RoleCitizen: PathDashboard,
	models.RoleAdmin:   PathAdmin,
}

// Routes returns the built-in routes.
func Routes() []Route {
	out := make([]Route, len(routes))
	copy(out, routes)
	return out
}

// Lookup finds a built-in route by path.
func Lookup(path string) (Route, bool) {
	path = normalise(path)
	for _, r := range routes {
		if r.Path == path {
			return r, true
		}
	}
	return Route{}, false
}

// Landing returns the default view for a role.
func Landing(role models.UserRole) (string, bool) {
	path, ok := landing[role]
	return path, ok
}

// CanAccess decides whether the session may open the route. A role mismatch
// sends the user to their own landing view.
func CanAccess(route Route, session *models.Session) Decision {
	if route.Public() {
		return Decision{Outcome: Allow}
	}
	if session == nil || session.Token == "" {
		return Decision{Outcome: Redirect, Path: PathLogin}
	}
	for _, role := range route.Roles {
		if role == session.Role {
			return Decision{Outcome: Allow}
		}
	}
	if path, ok := landing[session.Role]; ok {
		return Decision{Outcome: Redirect, Path: path}
	}
	return Decision{Outcome: Deny}
}

// ReportControls lists which report actions a view should offer.
type ReportControls struct {
	CanEdit       bool
	CanDelete     bool
	CanAttach     bool
	StatusOptions []models.ReportStatus
}

// Controls derives the report controls from the lifecycle rules.
func Controls(report *models.Report, session *models.Session) ReportControls {
	if session == nil {
		return ReportControls{}
	}
	actions := lifecycle.Allowed(report, lifecycle.Actor{UserID: session.UserID, Role: session.Role})
	return ReportControls{
		CanEdit:       actions.Edit,
		CanDelete:     actions.Delete,
		CanAttach:     actions.AttachMedia,
		StatusOptions: actions.StatusTargets,
	}
}

func normalise(path string) string {
	path = strings.TrimSpace(path)
	if idx := strings.IndexAny(path, "?#"); idx >= 0 {
		path = path[:idx]
	}
	if path != "/" {
		path = strings.TrimRight(path, "/")
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}
