package dto

import "github.com/noah-isme/ireporter/internal/models"

// CreateReportRequest is the POST /{kind} payload. Location is the place
// name; coordinates are optional but must be in range when given.
type CreateReportRequest struct {
	Title       string   `json:"title" validate:"required,max=255"`
	Description string   `json:"description" validate:"required"`
	Location    string   `json:"location" validate:"max=255"`
	Latitude    *float64 `json:"latitude" validate:"omitempty,latitude"`
	Longitude   *float64 `json:"longitude" validate:"omitempty,longitude"`
}

// UpdateReportRequest is the PATCH /{kind}/:id payload. Nil fields are left
// unchanged. A status field turns the request into a status change.
type UpdateReportRequest struct {
	Title       *string  `json:"title" validate:"omitempty,max=255"`
	Description *string  `json:"description"`
	Location    *string  `json:"location" validate:"omitempty,max=255"`
	Latitude    *float64 `json:"latitude" validate:"omitempty,latitude"`
	Longitude   *float64 `json:"longitude" validate:"omitempty,longitude"`
	Status      *string  `json:"status"`
}

// HasContent reports whether any editable field is set.
func (r UpdateReportRequest) HasContent() bool {
	return r.Title != nil || r.Description != nil || r.Location != nil || r.Latitude != nil || r.Longitude != nil
}

// StatusChangeRequest is the PATCH /{kind}/:id/status payload.
type StatusChangeRequest struct {
	Status string `json:"status" validate:"required"`
}

// StatusChangeResponse carries the updated report and the notification outcome.
type StatusChangeResponse struct {
	Report       models.Report `json:"report"`
	EmailMessage string        `json:"email_message,omitempty"`
}

// ListReportsQuery binds report list query parameters.
type ListReportsQuery struct {
	Kind     string `form:"kind"`
	Status   string `form:"status"`
	Mine     bool   `form:"mine"`
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
}

// DeleteReportResponse mirrors the confirmation message of the legacy API.
type DeleteReportResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}
