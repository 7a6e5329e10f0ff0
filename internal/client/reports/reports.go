// Package reports is the client side of the report service: it lists,
// creates and mutates reports on behalf of the signed-in user and keeps the
// acknowledged results in a Collection.
package reports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/ireporter/internal/client/api"
	"github.com/noah-isme/ireporter/internal/lifecycle"
	"github.com/noah-isme/ireporter/internal/models"
	"github.com/noah-isme/ireporter/pkg/config"
	appErrors "github.com/noah-isme/ireporter/pkg/errors"
)

const (
	listPageSize = 200
	maxListPages = 50
)

// SessionSource exposes the signed-in user.
type SessionSource interface {
	Current() *models.Session
}

// Config tunes the client.
type Config struct {
	// EndpointShape is config.ShapeSplit (one list call per kind) or
	// config.ShapeCombined (a single /reports call).
	EndpointShape  string
	MaxUploadBytes int64
	Logger         *zap.Logger
}

// Draft is the content of a new report. Location is required; nil means the
// caller has no coordinates.
type Draft struct {
	Title       string
	Description string
	Location    *models.Location
}

// Patch changes report content. Nil fields are left as they are.
type Patch struct {
	Title       *string
	Description *string
	Location    *models.Location
}

// Filter narrows the admin review list.
type Filter struct {
	Kind   *models.ReportKind
	Status *models.ReportStatus
}

// Upload is one file to attach.
type Upload struct {
	Name   string
	Size   int64
	Reader io.Reader
}

// StatusResult is the outcome of a status change. Notice is the
// notification message surfaced by the service.
type StatusResult struct {
	Report models.Report
	Notice string
}

// Client performs report operations against the service.
type Client struct {
	session    SessionSource
	api        *api.Client
	collection *Collection
	ops        *opTracker
	shape      string
	maxUpload  int64
	logger     *zap.Logger
}

// New builds a Client.
func New(session SessionSource, client *api.Client, cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.EndpointShape != config.ShapeCombined {
		cfg.EndpointShape = config.ShapeSplit
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 * 1024 * 1024
	}
	return &Client{
		session:    session,
		api:        client,
		collection: NewCollection(),
		ops:        newOpTracker(),
		shape:      cfg.EndpointShape,
		maxUpload:  cfg.MaxUploadBytes,
		logger:     cfg.Logger,
	}
}

// Collection returns the acknowledged reports.
func (c *Client) Collection() *Collection {
	return c.collection
}

// State returns the progress of the latest call of op.
func (c *Client) State(op string) OpState {
	return c.ops.get(op)
}

// ListMine loads the caller's reports of both kinds. Either fetch failing
// fails the call and leaves the collection as it was.
func (c *Client) ListMine(ctx context.Context) (out []models.Report, err error) {
	defer c.ops.begin(OpListMine)(&err)
	if _, err = c.actor(); err != nil {
		return nil, err
	}
	query := url.Values{"mine": {"true"}}
	out, err = c.fetchKinds(ctx, query, models.Kinds)
	if err != nil {
		return nil, err
	}
	if err = applicable(ctx); err != nil {
		return nil, err
	}
	c.collection.Replace(out)
	return c.collection.Snapshot(), nil
}

// ListAll loads every report for review. Only administrators may call it.
func (c *Client) ListAll(ctx context.Context, filter Filter) (out []models.Report, err error) {
	defer c.ops.begin(OpListAll)(&err)
	actor, err := c.actor()
	if err != nil {
		return nil, err
	}
	if actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrPermission, "only administrators can review all reports")
	}
	query := url.Values{}
	if filter.Status != nil {
		query.Set("status", string(*filter.Status))
	}
	kinds := models.Kinds
	if filter.Kind != nil {
		kinds = []models.ReportKind{*filter.Kind}
	}
	out, err = c.fetchKinds(ctx, query, kinds)
	if err != nil {
		return nil, err
	}
	if err = applicable(ctx); err != nil {
		return nil, err
	}
	c.collection.Replace(out)
	return c.collection.Snapshot(), nil
}

// Get loads one report and records it in the collection.
func (c *Client) Get(ctx context.Context, kind models.ReportKind, id string) (models.Report, error) {
	if _, err := c.actor(); err != nil {
		return models.Report{}, err
	}
	if kind.Segment() == "" {
		return models.Report{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown report kind %q", kind))
	}
	res, err := c.api.Get(ctx, "/"+kind.Segment()+"/"+url.PathEscape(id), nil)
	if err != nil {
		return models.Report{}, err
	}
	report, err := decodeReport(res.Data, kind, c.resolve)
	if err != nil {
		return models.Report{}, err
	}
	if err := applicable(ctx); err != nil {
		return models.Report{}, err
	}
	c.collection.Put(report)
	return report, nil
}

// Export writes the admin report export in the given format (csv or pdf)
// to w and returns the suggested file name.
func (c *Client) Export(ctx context.Context, format string, w io.Writer) (string, error) {
	actor, err := c.actor()
	if err != nil {
		return "", err
	}
	if actor.Role != models.RoleAdmin {
		return "", appErrors.Clone(appErrors.ErrPermission, "only administrators can export reports")
	}
	format = strings.ToLower(strings.TrimSpace(format))
	if format != "csv" && format != "pdf" {
		return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
	header, err := c.api.Download(ctx, "/admin/reports/export", url.Values{"format": {format}}, w)
	if err != nil {
		return "", err
	}
	if _, params, perr := mime.ParseMediaType(header.Get("Content-Disposition")); perr == nil && params["filename"] != "" {
		return params["filename"], nil
	}
	return "reports." + format, nil
}

// Create validates the draft locally and submits it.
func (c *Client) Create(ctx context.Context, kind models.ReportKind, draft Draft) (report models.Report, err error) {
	defer c.ops.begin(OpCreate)(&err)
	if _, err = c.actor(); err != nil {
		return report, err
	}
	if kind.Segment() == "" {
		return report, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown report kind %q", kind))
	}
	if err = validateDraft(draft); err != nil {
		return report, err
	}
	body := map[string]interface{}{
		"title":       strings.TrimSpace(draft.Title),
		"description": strings.TrimSpace(draft.Description),
		"location":    placeName(draft.Location.Name),
		"latitude":    draft.Location.Latitude,
		"longitude":   draft.Location.Longitude,
	}
	res, err := c.api.Do(ctx, http.MethodPost, "/"+kind.Segment(), body)
	if err != nil {
		return report, err
	}
	if report, err = decodeReport(res.Data, kind, c.resolve); err != nil {
		return report, err
	}
	if err = applicable(ctx); err != nil {
		return models.Report{}, err
	}
	c.collection.Put(report)
	return report, nil
}

// Update changes the content of a draft authored by the caller.
func (c *Client) Update(ctx context.Context, report models.Report, patch Patch) (updated models.Report, err error) {
	defer c.ops.begin(OpUpdate)(&err)
	if err = c.checkContent(report); err != nil {
		return updated, err
	}
	body, err := patchBody(patch)
	if err != nil {
		return updated, err
	}
	res, err := c.api.Do(ctx, http.MethodPatch, reportPath(report), body)
	if err != nil {
		return updated, err
	}
	if updated, err = decodeReport(res.Data, report.Kind, c.resolve); err != nil {
		return updated, err
	}
	if err = applicable(ctx); err != nil {
		return models.Report{}, err
	}
	c.collection.Put(updated)
	return updated, nil
}

// Remove deletes a draft authored by the caller.
func (c *Client) Remove(ctx context.Context, report models.Report) (err error) {
	defer c.ops.begin(OpRemove)(&err)
	if err = c.checkContent(report); err != nil {
		return err
	}
	if _, err = c.api.Do(ctx, http.MethodDelete, reportPath(report), nil); err != nil {
		return err
	}
	if err = applicable(ctx); err != nil {
		return err
	}
	c.collection.Delete(report.Kind, report.ID)
	return nil
}

// SetStatus moves a report along the lifecycle as the signed-in reviewer.
func (c *Client) SetStatus(ctx context.Context, report models.Report, to models.ReportStatus) (result StatusResult, err error) {
	defer c.ops.begin(OpSetStatus)(&err)
	actor, err := c.actor()
	if err != nil {
		return result, err
	}
	if err = lifecycle.CheckTransition(report.Status, to, actor.Role); err != nil {
		return result, err
	}
	res, err := c.api.Do(ctx, http.MethodPatch, reportPath(report)+"/status", map[string]string{"status": string(to)})
	if err != nil {
		return result, err
	}
	updated, err := decodeReport(res.Data, report.Kind, c.resolve)
	if err != nil {
		return result, err
	}
	if err = applicable(ctx); err != nil {
		return result, err
	}
	c.collection.Put(updated)
	return StatusResult{Report: updated, Notice: notice(res.Data)}, nil
}

// AttachMedia uploads files to a draft authored by the caller. Every file is
// size-checked before the first upload starts.
func (c *Client) AttachMedia(ctx context.Context, report models.Report, files []Upload) (updated models.Report, err error) {
	defer c.ops.begin(OpAttachMedia)(&err)
	if err = c.checkContent(report); err != nil {
		return updated, err
	}
	if len(files) == 0 {
		return updated, appErrors.Clone(appErrors.ErrValidation, "no files to attach")
	}
	for _, f := range files {
		if f.Reader == nil {
			return updated, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s has no content", f.Name))
		}
		if f.Size <= 0 {
			return updated, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s has no declared size", f.Name))
		}
		if f.Size > c.maxUpload {
			return updated, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s exceeds the %d byte limit", f.Name, c.maxUpload))
		}
	}

	var acknowledged *models.Report
	defer func() {
		if acknowledged != nil && ctx.Err() == nil {
			c.collection.Put(*acknowledged)
		}
	}()
	for _, f := range files {
		body := &sizedReader{r: io.LimitReader(f.Reader, f.Size+1), limit: f.Size, name: f.Name}
		res, upErr := c.api.Upload(ctx, reportPath(report)+"/media", "file", f.Name, body)
		if upErr != nil {
			if body.err != nil {
				return updated, body.err
			}
			return updated, upErr
		}
		next, decErr := decodeReport(res.Data, report.Kind, c.resolve)
		if decErr != nil {
			return updated, decErr
		}
		acknowledged = &next
		c.logger.Debug("media attached", zap.String("report_id", report.ID), zap.String("file", f.Name))
	}
	if err = applicable(ctx); err != nil {
		return models.Report{}, err
	}
	return *acknowledged, nil
}

// sizedReader fails the upload once the content runs past its declared size.
type sizedReader struct {
	r     io.Reader
	limit int64
	read  int64
	name  string
	err   error
}

func (s *sizedReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	s.read += int64(n)
	if s.read > s.limit {
		s.err = appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s is larger than its declared %d bytes", s.name, s.limit))
		return 0, s.err
	}
	return n, err
}

func (c *Client) actor() (lifecycle.Actor, error) {
	var sess *models.Session
	if c.session != nil {
		sess = c.session.Current()
	}
	if sess == nil || sess.Token == "" {
		return lifecycle.Actor{}, appErrors.Clone(appErrors.ErrUnauthenticated, "not signed in")
	}
	return lifecycle.Actor{UserID: sess.UserID, Role: sess.Role}, nil
}

func (c *Client) checkContent(report models.Report) error {
	actor, err := c.actor()
	if err != nil {
		return err
	}
	return lifecycle.CheckContentChange(&report, actor)
}

// fetchKinds lists each kind in parallel under the split shape and awaits
// both; the combined shape uses one call.
func (c *Client) fetchKinds(ctx context.Context, query url.Values, kinds []models.ReportKind) ([]models.Report, error) {
	if c.shape == config.ShapeCombined {
		q := cloneValues(query)
		if len(kinds) == 1 {
			q.Set("kind", string(kinds[0]))
		}
		return c.fetchAll(ctx, "/reports", q, "")
	}

	results := make([][]models.Report, len(kinds))
	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range kinds {
		i, kind := i, kind
		g.Go(func() error {
			list, err := c.fetchAll(gctx, "/"+kind.Segment(), cloneValues(query), kind)
			if err != nil {
				return err
			}
			results[i] = list
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.logger.Warn("report list failed", zap.Error(err))
		return nil, err
	}
	var out []models.Report
	for i, list := range results {
		for _, r := range list {
			if r.Kind == "" {
				r.Kind = kinds[i]
			}
			out = append(out, r)
		}
	}
	return out, nil
}

// fetchAll follows pagination until the reported total has been read.
// Replies without pagination are taken as complete.
func (c *Client) fetchAll(ctx context.Context, path string, query url.Values, kind models.ReportKind) ([]models.Report, error) {
	var out []models.Report
	for page := 1; page <= maxListPages; page++ {
		query.Set("page", strconv.Itoa(page))
		query.Set("page_size", strconv.Itoa(listPageSize))
		res, err := c.api.Get(ctx, path, query)
		if err != nil {
			return nil, err
		}
		list, err := decodeReports(res.Data, kind, c.resolve)
		if err != nil {
			return nil, err
		}
		out = append(out, list...)

		p, ok := pagination(res)
		if !ok || len(list) == 0 || len(out) >= p.TotalCount {
			break
		}
	}
	return out, nil
}

func (c *Client) resolve(ref string) string {
	ref = strings.TrimSpace(ref)
	base, err := url.Parse(c.api.BaseURL())
	if err != nil || base.Host == "" {
		return ref
	}
	target, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(target).String()
}

func pagination(res *api.Response) (models.Pagination, bool) {
	var p models.Pagination
	if len(res.Pagination) == 0 || string(res.Pagination) == "null" {
		return p, false
	}
	if err := json.Unmarshal(res.Pagination, &p); err != nil || p.PageSize == 0 {
		return p, false
	}
	return p, true
}

// applicable rejects results that arrive after the caller gave up.
func applicable(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return appErrors.Fetch(0, "request cancelled", err)
	}
	return nil
}

func reportPath(r models.Report) string {
	return "/" + r.Kind.Segment() + "/" + url.PathEscape(r.ID)
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v)+2)
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}

func validateDraft(d Draft) error {
	var problems []string
	if strings.TrimSpace(d.Title) == "" {
		problems = append(problems, "title is required")
	}
	if strings.TrimSpace(d.Description) == "" {
		problems = append(problems, "description is required")
	}
	switch {
	case d.Location == nil:
		problems = append(problems, "location coordinates are required")
	case !models.ValidCoordinates(d.Location.Latitude, d.Location.Longitude):
		problems = append(problems, "location coordinates are out of range")
	}
	if len(problems) > 0 {
		return appErrors.Clone(appErrors.ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

func placeName(name string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return models.UnknownLocation
}

func patchBody(p Patch) (map[string]interface{}, error) {
	body := map[string]interface{}{}
	if p.Title != nil {
		if strings.TrimSpace(*p.Title) == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "title cannot be empty")
		}
		body["title"] = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		if strings.TrimSpace(*p.Description) == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "description cannot be empty")
		}
		body["description"] = strings.TrimSpace(*p.Description)
	}
	if p.Location != nil {
		if !models.ValidCoordinates(p.Location.Latitude, p.Location.Longitude) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "location coordinates are out of range")
		}
		body["location"] = strings.TrimSpace(p.Location.Name)
		body["latitude"] = p.Location.Latitude
		body["longitude"] = p.Location.Longitude
	}
	if len(body) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "nothing to update")
	}
	return body, nil
}

// IsCancelled reports whether err came from an abandoned call.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
