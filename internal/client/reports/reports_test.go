package reports

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/ireporter/internal/client/api"
	"github.com/noah-isme/ireporter/internal/models"
	"github.com/noah-isme/ireporter/pkg/config"
	appErrors "github.com/noah-isme/ireporter/pkg/errors"
)

type staticSession struct {
	sess *models.Session
}

func (s staticSession) Current() *models.Session { return s.sess }

func (s staticSession) Token() (string, error) {
	if s.sess == nil {
		return "", nil
	}
	return s.sess.Token, nil
}

var (
	citizen = &models.Session{UserID: "u1", Role: models.RoleCitizen, Token: "citizen-token"}
	admin   = &models.Session{UserID: "a1", Role: models.RoleAdmin, Token: "admin-token"}
)

// fakeService is an in-memory report service speaking the envelope format.
type fakeService struct {
	t        *testing.T
	srv      *httptest.Server
	mu       sync.Mutex
	reports  map[string]models.Report
	seq      int
	requests int32
	fail     map[string]int
	uploads  int32
}

func newFakeService(t *testing.T) *fakeService {
	f := &fakeService{t: t, reports: map[string]models.Report{}, fail: map[string]int{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/", f.handle)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeService) seed(r models.Report) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports[string(r.Kind)+"/"+r.ID] = r
}

func (f *fakeService) failPath(path string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[path] = status
}

func (f *fakeService) count() int { return int(atomic.LoadInt32(&f.requests)) }

func (f *fakeService) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(f.t, json.NewEncoder(w).Encode(v))
}

func (f *fakeService) handle(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&f.requests, 1)
	path := strings.TrimPrefix(r.URL.Path, "/api/v1")

	f.mu.Lock()
	status, failing := f.fail[path]
	f.mu.Unlock()
	if failing {
		f.writeJSON(w, status, map[string]interface{}{"error": map[string]string{"code": "INTERNAL_ERROR", "message": "database unavailable"}})
		return
	}

	parts := strings.Split(strings.Trim(path, "/"), "/")
	kind, ok := models.ParseKind(parts[0])
	if !ok {
		http.NotFound(w, r)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		var list []models.Report
		for _, rep := range f.reports {
			if rep.Kind == kind {
				list = append(list, rep)
			}
		}
		f.writeJSON(w, http.StatusOK, map[string]interface{}{
			"data":       list,
			"pagination": models.Pagination{Page: 1, PageSize: listPageSize, TotalCount: len(list)},
		})
	case len(parts) == 1 && r.Method == http.MethodPost:
		var body struct {
			Title       string  `json:"title"`
			Description string  `json:"description"`
			Location    string  `json:"location"`
			Latitude    float64 `json:"latitude"`
			Longitude   float64 `json:"longitude"`
		}
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		f.seq++
		now := time.Date(2024, 3, 1, 10, 0, f.seq, 0, time.UTC)
		rep := models.Report{
			ID: fmt.Sprintf("%d", f.seq), Kind: kind, Title: body.Title, Description: body.Description,
			Location: models.Location{Name: body.Location, Latitude: body.Latitude, Longitude: body.Longitude},
			Status:   models.StatusDraft, AuthorID: "u1", CreatedAt: now, UpdatedAt: now,
		}
		f.reports[string(kind)+"/"+rep.ID] = rep
		f.writeJSON(w, http.StatusCreated, map[string]interface{}{"data": rep})
	case len(parts) == 3 && parts[2] == "status":
		rep := f.reports[string(kind)+"/"+parts[1]]
		var body struct {
			Status string `json:"status"`
		}
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		rep.Status = models.ReportStatus(body.Status)
		f.reports[string(kind)+"/"+rep.ID] = rep
		f.writeJSON(w, http.StatusOK, map[string]interface{}{"data": map[string]interface{}{
			"report":        rep,
			"email_message": "Email sent successfully. Please check your email.",
		}})
	case len(parts) == 3 && parts[2] == "media":
		file, header, err := r.FormFile("file")
		require.NoError(f.t, err)
		_, _ = io.Copy(io.Discard, file)
		atomic.AddInt32(&f.uploads, 1)
		rep := f.reports[string(kind)+"/"+parts[1]]
		rep.Media = append(rep.Media, models.Media{ID: header.Filename, MediaType: models.MediaImage, URL: "/api/v1/media/" + header.Filename})
		f.reports[string(kind)+"/"+rep.ID] = rep
		f.writeJSON(w, http.StatusCreated, map[string]interface{}{"data": rep})
	case len(parts) == 2 && r.Method == http.MethodGet:
		rep, ok := f.reports[string(kind)+"/"+parts[1]]
		if !ok {
			f.writeJSON(w, http.StatusNotFound, map[string]interface{}{"error": map[string]string{"code": "NOT_FOUND", "message": "report not found"}})
			return
		}
		f.writeJSON(w, http.StatusOK, map[string]interface{}{"data": rep})
	case len(parts) == 2 && r.Method == http.MethodPatch:
		rep := f.reports[string(kind)+"/"+parts[1]]
		var body map[string]interface{}
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		if title, ok := body["title"].(string); ok {
			rep.Title = title
		}
		f.reports[string(kind)+"/"+rep.ID] = rep
		f.writeJSON(w, http.StatusOK, map[string]interface{}{"data": rep})
	case len(parts) == 2 && r.Method == http.MethodDelete:
		delete(f.reports, string(kind)+"/"+parts[1])
		f.writeJSON(w, http.StatusOK, map[string]interface{}{"data": map[string]string{"id": parts[1], "message": kind.Label() + " deleted successfully"}})
	default:
		http.NotFound(w, r)
	}
}

func newClient(f *fakeService, sess *models.Session, shape string) *Client {
	src := staticSession{sess: sess}
	return New(src, api.New(f.srv.URL+"/api/v1", src), Config{EndpointShape: shape, MaxUploadBytes: 1024})
}

func draft(title string) Draft {
	return Draft{Title: title, Description: "Bribery at the checkpoint", Location: &models.Location{Name: "Kampala", Latitude: 0.3476, Longitude: 32.5825}}
}

func TestNonDraftMutationsStayLocal(t *testing.T) {
	f := newFakeService(t)
	c := newClient(f, citizen, config.ShapeSplit)
	resolved := models.Report{ID: "7", Kind: models.KindRedFlag, Title: "Bribe", AuthorID: "u1", Status: models.StatusResolved}
	c.Collection().Put(resolved)

	title := "changed"
	_, err := c.Update(context.Background(), resolved, Patch{Title: &title})
	assert.ErrorIs(t, err, appErrors.ErrPermission)

	err = c.Remove(context.Background(), resolved)
	assert.ErrorIs(t, err, appErrors.ErrPermission)

	_, err = c.AttachMedia(context.Background(), resolved, []Upload{{Name: "a.png", Size: 1, Reader: strings.NewReader("x")}})
	assert.ErrorIs(t, err, appErrors.ErrPermission)

	assert.Zero(t, f.count())
	got, ok := c.Collection().Get(models.KindRedFlag, "7")
	require.True(t, ok)
	assert.Equal(t, resolved, got)
	assert.Equal(t, OpState{Err: err}, c.State(OpAttachMedia))
}

func TestOtherAuthorsDraftIsReadOnly(t *testing.T) {
	f := newFakeService(t)
	c := newClient(f, citizen, config.ShapeSplit)
	err := c.Remove(context.Background(), models.Report{ID: "9", Kind: models.KindIntervention, AuthorID: "u2", Status: models.StatusDraft})
	assert.ErrorIs(t, err, appErrors.ErrPermission)
	assert.Zero(t, f.count())
}

func TestCreateThenListMineRoundTrip(t *testing.T) {
	f := newFakeService(t)
	c := newClient(f, citizen, config.ShapeSplit)

	created, err := c.Create(context.Background(), models.KindRedFlag, draft("Bribe at checkpoint"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusDraft, created.Status)

	_, err = c.Create(context.Background(), models.KindIntervention, Draft{Title: "Broken bridge", Description: "Collapsed", Location: &models.Location{Latitude: 1, Longitude: 2}})
	require.NoError(t, err)

	list, err := c.ListMine(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, models.KindIntervention, list[0].Kind)

	got, ok := c.Collection().Get(models.KindRedFlag, created.ID)
	require.True(t, ok)
	assert.Equal(t, "Bribe at checkpoint", got.Title)
	assert.Equal(t, "Bribery at the checkpoint", got.Description)
	assert.Equal(t, models.Location{Name: "Kampala", Latitude: 0.3476, Longitude: 32.5825}, got.Location)
	assert.Equal(t, models.StatusDraft, got.Status)
	assert.Equal(t, OpState{}, c.State(OpListMine))
}

func TestCreateValidatesBeforeNetwork(t *testing.T) {
	f := newFakeService(t)
	c := newClient(f, citizen, config.ShapeSplit)

	cases := map[string]Draft{
		"blank title":         {Title: "  ", Description: "d", Location: &models.Location{}},
		"blank description":   {Title: "t", Description: "\t", Location: &models.Location{}},
		"bad latitude":        {Title: "t", Description: "d", Location: &models.Location{Latitude: 91}},
		"bad longitude":       {Title: "t", Description: "d", Location: &models.Location{Longitude: -181}},
		"missing coordinates": {Title: "t", Description: "d"},
	}
	for name, d := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := c.Create(context.Background(), models.KindRedFlag, d)
			assert.ErrorIs(t, err, appErrors.ErrValidation)
		})
	}
	_, err := c.Create(context.Background(), models.ReportKind("complaint"), draft("t"))
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Zero(t, f.count())
	assert.Zero(t, c.Collection().Len())
}

func TestSignedOutCallsFailLocally(t *testing.T) {
	f := newFakeService(t)
	c := newClient(f, nil, config.ShapeSplit)
	_, err := c.ListMine(context.Background())
	assert.ErrorIs(t, err, appErrors.ErrUnauthenticated)
	_, err = c.Create(context.Background(), models.KindRedFlag, draft("t"))
	assert.ErrorIs(t, err, appErrors.ErrUnauthenticated)
	assert.Zero(t, f.count())
}

func TestSetStatusExposesNotice(t *testing.T) {
	f := newFakeService(t)
	report := models.Report{ID: "42", Kind: models.KindIntervention, Title: "Pothole", AuthorID: "u1", Status: models.StatusUnderInvestigation}
	f.seed(report)
	c := newClient(f, admin, config.ShapeSplit)

	res, err := c.SetStatus(context.Background(), report, models.StatusResolved)
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, res.Report.Status)
	assert.Equal(t, "Email sent successfully. Please check your email.", res.Notice)

	got, ok := c.Collection().Get(models.KindIntervention, "42")
	require.True(t, ok)
	assert.Equal(t, models.StatusResolved, got.Status)
}

func TestSetStatusChecksLifecycleLocally(t *testing.T) {
	f := newFakeService(t)
	report := models.Report{ID: "42", Kind: models.KindRedFlag, AuthorID: "u1", Status: models.StatusResolved}

	_, err := newClient(f, citizen, config.ShapeSplit).SetStatus(context.Background(), models.Report{ID: "1", Kind: models.KindRedFlag, Status: models.StatusDraft}, models.StatusResolved)
	assert.ErrorIs(t, err, appErrors.ErrPermission)

	_, err = newClient(f, admin, config.ShapeSplit).SetStatus(context.Background(), report, models.StatusDraft)
	assert.ErrorIs(t, err, appErrors.ErrInvalidTransition)
	assert.Zero(t, f.count())
}

func TestSplitListMineIsAtomic(t *testing.T) {
	f := newFakeService(t)
	f.seed(models.Report{ID: "1", Kind: models.KindRedFlag, AuthorID: "u1", Status: models.StatusDraft})
	f.seed(models.Report{ID: "2", Kind: models.KindIntervention, AuthorID: "u1", Status: models.StatusDraft})
	c := newClient(f, citizen, config.ShapeSplit)

	f.failPath("/interventions", http.StatusInternalServerError)
	_, err := c.ListMine(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrFetch)
	assert.Zero(t, c.Collection().Len())
	assert.False(t, c.Collection().Loaded())

	f.mu.Lock()
	delete(f.fail, "/interventions")
	f.mu.Unlock()
	before, err := c.ListMine(context.Background())
	require.NoError(t, err)
	require.Len(t, before, 2)

	f.seed(models.Report{ID: "3", Kind: models.KindRedFlag, AuthorID: "u1", Status: models.StatusDraft})
	f.failPath("/interventions", http.StatusServiceUnavailable)
	_, err = c.ListMine(context.Background())
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, http.StatusServiceUnavailable, appErr.Status)
	assert.Equal(t, "database unavailable", appErr.Message)
	assert.Equal(t, before, c.Collection().Snapshot())

	state := c.State(OpListMine)
	assert.False(t, state.Loading)
	assert.Error(t, state.Err)
}

func TestListAllRequiresAdmin(t *testing.T) {
	f := newFakeService(t)
	_, err := newClient(f, citizen, config.ShapeSplit).ListAll(context.Background(), Filter{})
	assert.ErrorIs(t, err, appErrors.ErrPermission)
	assert.Zero(t, f.count())

	f.seed(models.Report{ID: "5", Kind: models.KindRedFlag, AuthorID: "u2", Status: models.StatusDraft})
	kind := models.KindRedFlag
	list, err := newClient(f, admin, config.ShapeSplit).ListAll(context.Background(), Filter{Kind: &kind})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1, f.count())
}

func TestCombinedShapeNormalisesLegacyReplies(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/reports", r.URL.Path)
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[
			{"id": 12, "type": "red-flag", "title": "Ghost workers", "description": "Payroll", "location": "Gulu",
			 "latitude": "2.77", "longitude": 32.3, "status": "Status.UNDER_INVESTIGATION", "user_id": 3,
			 "created_at": "Tue, 05 Mar 2024 09:30:00 GMT", "image_url": "/uploads/a.jpg"},
			{"id": "13", "kind": "intervention", "title": "Bridge", "description": "Collapsed", "location": "0.5, 33.1",
			 "status": "pending", "created_by": "3", "created_at": "2024-03-04T08:00:00.123456"},
			{"id": "14", "type": "red-flag", "title": "Missing drugs", "description": "Clinic", "user_id": "u1"}
		]`)
	}))
	t.Cleanup(srv.Close)
	src := staticSession{sess: citizen}
	c := New(src, api.New(srv.URL+"/api/v1", src), Config{EndpointShape: config.ShapeCombined})

	list, err := c.ListMine(context.Background())
	require.NoError(t, err)
	assert.Contains(t, gotQuery, "mine=true")
	require.Len(t, list, 3)

	flag := list[0]
	assert.Equal(t, "12", flag.ID)
	assert.Equal(t, models.KindRedFlag, flag.Kind)
	assert.Equal(t, models.StatusUnderInvestigation, flag.Status)
	assert.Equal(t, "3", flag.AuthorID)
	assert.Equal(t, models.Location{Name: "Gulu", Latitude: 2.77, Longitude: 32.3}, flag.Location)
	assert.Equal(t, time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC), flag.CreatedAt)
	require.Len(t, flag.Media, 1)
	assert.Equal(t, srv.URL+"/uploads/a.jpg", flag.Media[0].URL)

	bridge := list[1]
	assert.Equal(t, models.KindIntervention, bridge.Kind)
	assert.Equal(t, models.StatusDraft, bridge.Status)
	assert.Equal(t, "3", bridge.AuthorID)
	assert.InDelta(t, 0.5, bridge.Location.Latitude, 1e-9)
	assert.InDelta(t, 33.1, bridge.Location.Longitude, 1e-9)

	unknown := list[2]
	assert.Equal(t, models.ReportStatus(""), unknown.Status)
	assert.Equal(t, "Unknown", unknown.Status.Label())
	assert.Equal(t, "u1", unknown.AuthorID)
	err = c.Remove(context.Background(), unknown)
	assert.ErrorIs(t, err, appErrors.ErrPermission)
	assert.Contains(t, err.Error(), "can no longer be changed")
}

func TestAttachMediaChecksEverySizeFirst(t *testing.T) {
	f := newFakeService(t)
	report := models.Report{ID: "1", Kind: models.KindRedFlag, AuthorID: "u1", Status: models.StatusDraft}
	f.seed(report)
	c := newClient(f, citizen, config.ShapeSplit)

	_, err := c.AttachMedia(context.Background(), report, []Upload{
		{Name: "small.png", Size: 10, Reader: strings.NewReader("0123456789")},
		{Name: "huge.mp4", Size: 4096, Reader: strings.NewReader("x")},
	})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Zero(t, f.count())

	_, err = c.AttachMedia(context.Background(), report, []Upload{
		{Name: "big.mp4", Reader: strings.NewReader(strings.Repeat("x", 5000))},
	})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Zero(t, f.count())

	updated, err := c.AttachMedia(context.Background(), report, []Upload{
		{Name: "one.png", Size: 3, Reader: strings.NewReader("one")},
		{Name: "two.png", Size: 3, Reader: strings.NewReader("two")},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&f.uploads))
	require.Len(t, updated.Media, 2)
	assert.Equal(t, f.srv.URL+"/api/v1/media/two.png", updated.Media[1].URL)

	got, ok := c.Collection().Get(models.KindRedFlag, "1")
	require.True(t, ok)
	assert.Len(t, got.Media, 2)
}

func TestAttachMediaStopsAtDeclaredSize(t *testing.T) {
	f := newFakeService(t)
	report := models.Report{ID: "1", Kind: models.KindRedFlag, AuthorID: "u1", Status: models.StatusDraft}
	f.seed(report)
	c := newClient(f, citizen, config.ShapeSplit)

	_, err := c.AttachMedia(context.Background(), report, []Upload{
		{Name: "lying.mp4", Size: 10, Reader: strings.NewReader(strings.Repeat("x", 5000))},
	})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Contains(t, err.Error(), "larger than its declared")

	got, ok := c.Collection().Get(models.KindRedFlag, "1")
	if ok {
		assert.Empty(t, got.Media)
	}
}

func TestUpdateAndRemoveDraft(t *testing.T) {
	f := newFakeService(t)
	c := newClient(f, citizen, config.ShapeSplit)
	created, err := c.Create(context.Background(), models.KindRedFlag, draft("Old"))
	require.NoError(t, err)

	empty := " "
	_, err = c.Update(context.Background(), created, Patch{Title: &empty})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	_, err = c.Update(context.Background(), created, Patch{})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	title := "New"
	updated, err := c.Update(context.Background(), created, Patch{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "New", updated.Title)

	require.NoError(t, c.Remove(context.Background(), updated))
	_, ok := c.Collection().Get(models.KindRedFlag, created.ID)
	assert.False(t, ok)
}

func TestCancelledCallLeavesCollection(t *testing.T) {
	f := newFakeService(t)
	c := newClient(f, citizen, config.ShapeSplit)
	c.Collection().Put(models.Report{ID: "1", Kind: models.KindRedFlag, AuthorID: "u1", Status: models.StatusDraft})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.ListMine(ctx)
	require.Error(t, err)
	assert.True(t, IsCancelled(err))
	assert.Equal(t, 1, c.Collection().Len())
	assert.False(t, c.State(OpListMine).Loading)
}

func TestExportIsAdminOnlyAndStreams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/admin/reports/export", r.URL.Path)
		assert.Equal(t, "csv", r.URL.Query().Get("format"))
		assert.Equal(t, "Bearer admin-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Disposition", `attachment; filename="reports_20240301_100000.csv"`)
		_, _ = io.WriteString(w, "ID,Kind\n1,Red-flag\n")
	}))
	t.Cleanup(srv.Close)

	var buf strings.Builder
	src := staticSession{sess: citizen}
	_, err := New(src, api.New(srv.URL+"/api/v1", src), Config{}).Export(context.Background(), "csv", &buf)
	assert.ErrorIs(t, err, appErrors.ErrPermission)

	src = staticSession{sess: admin}
	c := New(src, api.New(srv.URL+"/api/v1", src), Config{})
	_, err = c.Export(context.Background(), "xlsx", &buf)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Empty(t, buf.String())

	name, err := c.Export(context.Background(), "CSV", &buf)
	require.NoError(t, err)
	assert.Equal(t, "reports_20240301_100000.csv", name)
	assert.Equal(t, "ID,Kind\n1,Red-flag\n", buf.String())
}

func TestGetRecordsReport(t *testing.T) {
	f := newFakeService(t)
	f.seed(models.Report{ID: "3", Kind: models.KindRedFlag, Title: "Seeded", AuthorID: "u1", Status: models.StatusDraft})
	c := newClient(f, citizen, config.ShapeSplit)

	got, err := c.Get(context.Background(), models.KindRedFlag, "3")
	require.NoError(t, err)
	assert.Equal(t, "Seeded", got.Title)
	assert.Equal(t, 1, c.Collection().Len())

	_, err = c.Get(context.Background(), models.KindRedFlag, "99")
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, http.StatusNotFound, appErr.Status)
	assert.Equal(t, "report not found", appErr.Message)
	assert.Equal(t, 1, c.Collection().Len())
}
