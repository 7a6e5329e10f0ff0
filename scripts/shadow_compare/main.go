package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/noah-isme/ireporter/internal/client/api"
	"github.com/noah-isme/ireporter/internal/client/reports"
	"github.com/noah-isme/ireporter/internal/models"
	"github.com/noah-isme/ireporter/pkg/config"
)

type target struct {
	Method   string `json:"method"`
	Path     string `json:"path"`
	Critical bool   `json:"critical"`
}

type targetsFile struct {
	Targets []target `json:"targets"`
}

type comparison struct {
	Target         target
	LegacyStatus   int
	GoStatus       int
	StatusMatch    bool
	BodyMatch      bool
	Error          error
	DurationGo     time.Duration
	DurationLegacy time.Duration
}

type side struct {
	base  string
	token string
	role  models.UserRole
	shape string
}

// Current and Token let a side act as the session of a reports client.
func (s side) Current() *models.Session {
	return &models.Session{UserID: "shadow", Role: s.role, Token: s.token}
}

func (s side) Token() (string, error) {
	return s.token, nil
}

func main() {
	var (
		goSide, legacySide side
		targetsPath        string
		timeout            time.Duration
		admin              bool
	)

	flag.StringVar(&goSide.base, "go-base", "http://localhost:8080/api/v1", "Go API base URL")
	flag.StringVar(&legacySide.base, "legacy-base", "http://localhost:5000/api/v1", "Legacy API base URL")
	flag.StringVar(&goSide.token, "go-token", os.Getenv("SHADOW_GO_TOKEN"), "Bearer token for the Go API")
	flag.StringVar(&legacySide.token, "legacy-token", os.Getenv("SHADOW_LEGACY_TOKEN"), "Bearer token for the legacy API")
	flag.StringVar(&goSide.shape, "go-shape", config.ShapeSplit, "Go API list shape (split or combined)")
	flag.StringVar(&legacySide.shape, "legacy-shape", config.ShapeSplit, "Legacy API list shape (split or combined)")
	flag.BoolVar(&admin, "admin", false, "compare the admin review list instead of the caller's reports")
	flag.StringVar(&targetsPath, "targets", filepath.Join("scripts", "shadow_compare", "targets.json"), "Path to JSON targets file (optional)")
	flag.DurationVar(&timeout, "timeout", 5*time.Second, "HTTP client timeout")
	flag.Parse()

	role := models.RoleCitizen
	if admin {
		role = models.RoleAdmin
	}
	goSide.role, legacySide.role = role, role

	client := &http.Client{Timeout: timeout}
	breaking, optionalDiff := 0, 0

	targets, err := loadTargets(targetsPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Printf("no targets file at %s, skipping raw comparisons", targetsPath)
	case err != nil:
		log.Fatalf("failed to load targets: %v", err)
	default:
		var comparisons []comparison
		for _, t := range targets {
			comp := compareTarget(client, goSide, legacySide, t)
			switch {
			case comp.Error != nil || !comp.StatusMatch:
				if t.Critical {
					breaking++
				}
			case !comp.BodyMatch:
				if t.Critical {
					breaking++
				} else {
					optionalDiff++
				}
			}
			comparisons = append(comparisons, comp)
		}
		printReport(comparisons)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 4*timeout)
	defer cancel()
	diffs, err := compareReports(ctx, client, goSide, legacySide)
	if err != nil {
		log.Printf("report comparison failed: %v", err)
		breaking++
	}
	for _, d := range diffs {
		fmt.Println("  " + d)
	}
	breaking += len(diffs)

	fmt.Printf("Breaking diffs: %d, Optional diffs: %d\n", breaking, optionalDiff)
	if breaking > 0 {
		os.Exit(1)
	}
}

func loadTargets(path string) ([]target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg targetsFile
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Targets) == 0 {
		return nil, fmt.Errorf("no targets defined in %s", path)
	}
	return cfg.Targets, nil
}

// compareReports lists reports through the client normalisation on both
// sides and reports every field that differs.
func compareReports(ctx context.Context, hc *http.Client, goSide, legacySide side) ([]string, error) {
	load := func(s side) (map[string]models.Report, error) {
		c := reports.New(s, api.New(s.base, s, api.WithHTTPClient(hc)), reports.Config{EndpointShape: s.shape})
		var (
			list []models.Report
			err  error
		)
		if s.role == models.RoleAdmin {
			list, err = c.ListAll(ctx, reports.Filter{})
		} else {
			list, err = c.ListMine(ctx)
		}
		if err != nil {
			return nil, err
		}
		out := make(map[string]models.Report, len(list))
		for _, r := range list {
			out[string(r.Kind)+"/"+r.ID] = r
		}
		return out, nil
	}

	goReports, err := load(goSide)
	if err != nil {
		return nil, fmt.Errorf("go: %w", err)
	}
	legacyReports, err := load(legacySide)
	if err != nil {
		return nil, fmt.Errorf("legacy: %w", err)
	}
	return diffReports(goReports, legacyReports), nil
}

func diffReports(goReports, legacyReports map[string]models.Report) []string {
	keys := make([]string, 0, len(goReports)+len(legacyReports))
	seen := map[string]struct{}{}
	for _, m := range []map[string]models.Report{goReports, legacyReports} {
		for k := range m {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)

	var diffs []string
	for _, k := range keys {
		g, inGo := goReports[k]
		l, inLegacy := legacyReports[k]
		switch {
		case !inGo:
			diffs = append(diffs, fmt.Sprintf("%s: only in legacy", k))
			continue
		case !inLegacy:
			diffs = append(diffs, fmt.Sprintf("%s: only in go", k))
			continue
		}
		fields := []struct {
			name      string
			goV, legV interface{}
		}{
			{"title", g.Title, l.Title},
			{"description", g.Description, l.Description},
			{"status", g.Status, l.Status},
			{"author", g.AuthorID, l.AuthorID},
			{"location", g.Location, l.Location},
			{"media", len(g.Media), len(l.Media)},
		}
		for _, f := range fields {
			if !reflect.DeepEqual(f.goV, f.legV) {
				diffs = append(diffs, fmt.Sprintf("%s: %s go=%v legacy=%v", k, f.name, f.goV, f.legV))
			}
		}
	}
	return diffs
}

func compareTarget(client *http.Client, goSide, legacySide side, tgt target) comparison {
	comp := comparison{Target: tgt}
	goResp, goDur, goErr := performRequest(client, goSide, tgt)
	legacyResp, legacyDur, legacyErr := performRequest(client, legacySide, tgt)
	comp.DurationGo = goDur
	comp.DurationLegacy = legacyDur

	if goErr != nil {
		comp.Error = fmt.Errorf("go request failed: %w", goErr)
		return comp
	}
	if legacyErr != nil {
		comp.Error = fmt.Errorf("legacy request failed: %w", legacyErr)
		return comp
	}

	comp.GoStatus = goResp.StatusCode
	comp.LegacyStatus = legacyResp.StatusCode
	comp.StatusMatch = comp.GoStatus == comp.LegacyStatus

	defer goResp.Body.Close()
	defer legacyResp.Body.Close()

	goBody, err := io.ReadAll(goResp.Body)
	if err != nil {
		comp.Error = fmt.Errorf("read go body: %w", err)
		return comp
	}
	legacyBody, err := io.ReadAll(legacyResp.Body)
	if err != nil {
		comp.Error = fmt.Errorf("read legacy body: %w", err)
		return comp
	}

	comp.BodyMatch = bodiesEqual(unwrapData(goBody), legacyBody)

	return comp
}

func performRequest(client *http.Client, s side, tgt target) (*http.Response, time.Duration, error) {
	if client == nil {
		return nil, 0, errors.New("nil client")
	}
	method := strings.ToUpper(strings.TrimSpace(tgt.Method))
	if method == "" {
		method = http.MethodGet
	}
	path := tgt.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	url := strings.TrimRight(s.base, "/") + path

	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return nil, 0, err
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	return resp, time.Since(start), nil
}

// unwrapData drops the Go service envelope so bodies compare as payloads.
func unwrapData(body []byte) []byte {
	var env map[string]json.RawMessage
	if json.Unmarshal(body, &env) != nil {
		return body
	}
	if data, ok := env["data"]; ok {
		return data
	}
	return body
}

func bodiesEqual(a, b []byte) bool {
	if bytes.Equal(bytes.TrimSpace(a), bytes.TrimSpace(b)) {
		return true
	}

	var aj, bj interface{}
	if err := json.Unmarshal(a, &aj); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bj); err != nil {
		return false
	}
	normalize(&aj)
	normalize(&bj)
	return reflect.DeepEqual(aj, bj)
}

func normalize(v *interface{}) {
	switch val := (*v).(type) {
	case map[string]interface{}:
		for k, v2 := range val {
			normalize(&v2)
			val[k] = v2
		}
	case []interface{}:
		for i, v2 := range val {
			normalize(&v2)
			val[i] = v2
		}
	case float64:
		if val == float64(int64(val)) {
			*v = int64(val)
		}
	}
}

func printReport(results []comparison) {
	fmt.Println("Shadow Compare Report")
	fmt.Println("======================")
	for _, res := range results {
		status := "OK"
		if res.Error != nil {
			status = "ERROR"
		} else if !res.StatusMatch || !res.BodyMatch {
			status = "DIFF"
		}
		fmt.Printf("[%s] %s %s\n", status, res.Target.Method, res.Target.Path)
		fmt.Printf("  Go Status: %d (%s)\n", res.GoStatus, res.DurationGo)
		fmt.Printf("  Legacy Status: %d (%s)\n", res.LegacyStatus, res.DurationLegacy)
		if res.Error != nil {
			fmt.Printf("  Error: %v\n", res.Error)
		} else {
			fmt.Printf("  Status match: %t | Body match: %t | Critical: %t\n", res.StatusMatch, res.BodyMatch, res.Target.Critical)
		}
	}
}
