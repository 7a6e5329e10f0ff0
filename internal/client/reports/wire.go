package reports

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/noah-isme/ireporter/internal/client/api"
	"github.com/noah-isme/ireporter/internal/models"
	appErrors "github.com/noah-isme/ireporter/pkg/errors"
)

// wireReport accepts the service's report object and the flat legacy one.
type wireReport struct {
	ID          api.FlexString  `json:"id"`
	Kind        string          `json:"kind"`
	Type        string          `json:"type"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Location    json.RawMessage `json:"location"`
	Latitude    api.FlexFloat   `json:"latitude"`
	Longitude   api.FlexFloat   `json:"longitude"`
	Status      string          `json:"status"`
	AuthorID    api.FlexString  `json:"author_id"`
	UserID      api.FlexString  `json:"user_id"`
	CreatedBy   api.FlexString  `json:"created_by"`
	CreatedAt   api.FlexTime    `json:"created_at"`
	UpdatedAt   api.FlexTime    `json:"updated_at"`
	Media       []wireMedia     `json:"media"`
	ImageURL    string          `json:"image_url"`
	VideoURL    string          `json:"video_url"`
	Images      []string        `json:"images"`
	Videos      []string        `json:"videos"`
}

type wireLocation struct {
	Name      string        `json:"name"`
	Latitude  api.FlexFloat `json:"latitude"`
	Longitude api.FlexFloat `json:"longitude"`
}

type wireMedia struct {
	ID        api.FlexString `json:"id"`
	MediaType string         `json:"media_type"`
	URL       string         `json:"url"`
	FileURL   string         `json:"file_url"`
	CreatedAt api.FlexTime   `json:"created_at"`
}

func (w wireReport) toModel(fallback models.ReportKind, resolve func(string) string) models.Report {
	r := models.Report{
		ID:          string(w.ID),
		Kind:        fallback,
		Title:       w.Title,
		Description: w.Description,
		AuthorID:    firstNonEmpty(string(w.AuthorID), string(w.UserID), string(w.CreatedBy)),
		CreatedAt:   w.CreatedAt.Time,
		UpdatedAt:   w.UpdatedAt.Time,
	}
	for _, raw := range []string{w.Kind, w.Type} {
		if kind, ok := models.ParseKind(raw); ok {
			r.Kind = kind
			break
		}
	}
	// Unrecognised or missing statuses stay as sent; the lifecycle treats them
	// as read-only.
	if status, ok := models.ParseStatus(w.Status); ok {
		r.Status = status
	} else {
		r.Status = models.ReportStatus(strings.TrimSpace(w.Status))
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}

	r.Location = w.location()

	for _, m := range w.Media {
		url := firstNonEmpty(m.URL, m.FileURL)
		if url == "" {
			continue
		}
		mt := models.MediaType(strings.ToLower(m.MediaType))
		if mt != models.MediaImage && mt != models.MediaVideo {
			mt = guessMediaType(url)
		}
		r.Media = append(r.Media, models.Media{ID: string(m.ID), MediaType: mt, URL: resolve(url), CreatedAt: m.CreatedAt.Time})
	}
	legacy := func(url string, mt models.MediaType) {
		if strings.TrimSpace(url) != "" {
			r.Media = append(r.Media, models.Media{MediaType: mt, URL: resolve(url)})
		}
	}
	legacy(w.ImageURL, models.MediaImage)
	for _, u := range w.Images {
		legacy(u, models.MediaImage)
	}
	legacy(w.VideoURL, models.MediaVideo)
	for _, u := range w.Videos {
		legacy(u, models.MediaVideo)
	}
	return r
}

// location reads either an object or a place name string with flat
// latitude and longitude members. A "lat, lng" string is read as coordinates.
func (w wireReport) location() models.Location {
	var loc models.Location
	raw := bytes.TrimSpace(w.Location)
	if len(raw) > 0 && raw[0] == '{' {
		var obj wireLocation
		if json.Unmarshal(raw, &obj) == nil {
			loc.Name = obj.Name
			if obj.Latitude.Set && obj.Longitude.Set {
				loc.Latitude, loc.Longitude = obj.Latitude.Value, obj.Longitude.Value
			}
		}
	} else if len(raw) > 0 && raw[0] == '"' {
		_ = json.Unmarshal(raw, &loc.Name)
	}
	if w.Latitude.Set && w.Longitude.Set {
		loc.Latitude, loc.Longitude = w.Latitude.Value, w.Longitude.Value
	} else if lat, lng, ok := parseCoordinates(loc.Name); ok && loc.Latitude == 0 && loc.Longitude == 0 {
		loc.Latitude, loc.Longitude = lat, lng
	}
	return loc
}

// decodeReport reads one report from a reply. Replies wrapping the report
// in a "report" member (status changes, legacy creates) are unwrapped.
func decodeReport(data json.RawMessage, fallback models.ReportKind, resolve func(string) string) (models.Report, error) {
	obj, err := unwrapObject(data, "report", "redflag", "red_flag", "intervention")
	if err != nil {
		return models.Report{}, err
	}
	var w wireReport
	if err := json.Unmarshal(obj, &w); err != nil {
		return models.Report{}, appErrors.Fetch(0, "malformed report in response", err)
	}
	if w.ID == "" {
		return models.Report{}, appErrors.Fetch(0, "report in response has no id", nil)
	}
	return w.toModel(fallback, resolve), nil
}

// decodeReports reads a list reply: a bare array, or an object holding the
// array under one of the usual members.
func decodeReports(data json.RawMessage, fallback models.ReportKind, resolve func(string) string) ([]models.Report, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil, nil
	}
	if trimmed[0] == '{' {
		var members map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &members); err != nil {
			return nil, appErrors.Fetch(0, "malformed report list", err)
		}
		found := false
		for _, key := range []string{"reports", "items", "redflags", "red_flags", "interventions", "data"} {
			if v, ok := members[key]; ok {
				trimmed, found = bytes.TrimSpace(v), true
				break
			}
		}
		if !found {
			return nil, appErrors.Fetch(0, "malformed report list", nil)
		}
	}
	var items []wireReport
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, appErrors.Fetch(0, "malformed report list", err)
	}
	out := make([]models.Report, 0, len(items))
	for _, w := range items {
		if w.ID == "" {
			continue
		}
		out = append(out, w.toModel(fallback, resolve))
	}
	return out, nil
}

// notice pulls the notification outcome out of a status change reply.
func notice(data json.RawMessage) string {
	var body struct {
		EmailMessage string `json:"email_message"`
		Message      string `json:"message"`
	}
	if json.Unmarshal(data, &body) != nil {
		return ""
	}
	return firstNonEmpty(body.EmailMessage, body.Message)
}

func unwrapObject(data json.RawMessage, keys ...string) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, appErrors.Fetch(0, "malformed report in response", nil)
	}
	var members map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &members); err != nil {
		return nil, appErrors.Fetch(0, "malformed report in response", err)
	}
	if _, hasID := members["id"]; hasID {
		return trimmed, nil
	}
	for _, key := range keys {
		if v, ok := members[key]; ok && len(bytes.TrimSpace(v)) > 0 && bytes.TrimSpace(v)[0] == '{' {
			return v, nil
		}
	}
	return trimmed, nil
}

func guessMediaType(url string) models.MediaType {
	lower := strings.ToLower(url)
	for _, ext := range []string{".mp4", ".mov", ".webm", ".avi", ".mkv"} {
		if strings.Contains(lower, ext) {
			return models.MediaVideo
		}
	}
	return models.MediaImage
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseCoordinates(s string) (float64, float64, bool) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, false
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, false
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, false
	}
	if !models.ValidCoordinates(lat, lng) {
		return 0, 0, false
	}
	return lat, lng, true
}
