package models

import (
	"encoding/json"
	"time"
)

// AuditAction names something a user did that is kept in the audit trail.
type AuditAction string

const (
	AuditActionLogin          AuditAction = "LOGIN"
	AuditActionLogout         AuditAction = "LOGOUT"
	AuditActionSignup         AuditAction = "SIGNUP"
	AuditActionPasswordChange AuditAction = "PASSWORD_CHANGE"
	AuditActionReportCreate   AuditAction = "REPORT_CREATE"
	AuditActionReportUpdate   AuditAction = "REPORT_UPDATE"
	AuditActionReportDelete   AuditAction = "REPORT_DELETE"
	AuditActionReportStatus   AuditAction = "REPORT_STATUS"
	AuditActionMediaAttach    AuditAction = "MEDIA_ATTACH"
	AuditActionReportExport   AuditAction = "REPORT_EXPORT"
)

// AuditEntry is one row of the append-only audit trail. Subject is "auth"
// or "report"; SubjectID is empty for actions on a collection.
type AuditEntry struct {
	ID        string          `db:"id" json:"id"`
	ActorID   *string         `db:"actor_id" json:"actor_id,omitempty"`
	Action    AuditAction     `db:"action" json:"action"`
	Subject   string          `db:"subject" json:"subject"`
	SubjectID string          `db:"subject_id" json:"subject_id,omitempty"`
	Details   json.RawMessage `db:"details" json:"details,omitempty"`
	IPAddress string          `db:"ip_address" json:"ip_address"`
	UserAgent string          `db:"user_agent" json:"user_agent"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}
