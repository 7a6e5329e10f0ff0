package reports

import (
	"sort"
	"sync"

	"github.com/noah-isme/ireporter/internal/models"
)

// Collection is the client's view of the reports it has loaded. Entries are
// only written after the service acknowledged the change.
type Collection struct {
	mu     sync.RWMutex
	items  map[string]models.Report
	loaded bool
}

// NewCollection returns an empty collection.
func NewCollection() *Collection {
	return &Collection{items: map[string]models.Report{}}
}

func key(kind models.ReportKind, id string) string {
	return string(kind) + "/" + id
}

// Replace swaps the whole content for a freshly listed set.
func (c *Collection) Replace(reports []models.Report) {
	next := make(map[string]models.Report, len(reports))
	for _, r := range reports {
		next[key(r.Kind, r.ID)] = r.Clone()
	}
	c.mu.Lock()
	c.items = next
	c.loaded = true
	c.mu.Unlock()
}

// Put inserts or overwrites one report.
func (c *Collection) Put(r models.Report) {
	c.mu.Lock()
	c.items[key(r.Kind, r.ID)] = r.Clone()
	c.mu.Unlock()
}

// Delete prunes one report.
func (c *Collection) Delete(kind models.ReportKind, id string) {
	c.mu.Lock()
	delete(c.items, key(kind, id))
	c.mu.Unlock()
}

// Get returns a copy of one report.
func (c *Collection) Get(kind models.ReportKind, id string) (models.Report, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.items[key(kind, id)]
	if !ok {
		return models.Report{}, false
	}
	return r.Clone(), true
}

// Loaded reports whether a list call has ever succeeded.
func (c *Collection) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// Len returns the number of reports held.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Snapshot returns copies of every report, newest first.
func (c *Collection) Snapshot() []models.Report {
	c.mu.RLock()
	out := make([]models.Report, 0, len(c.items))
	for _, r := range c.items {
		out = append(out, r.Clone())
	}
	c.mu.RUnlock()
	sortReports(out)
	return out
}

// Filter returns the reports of one kind, newest first.
func (c *Collection) Filter(kind models.ReportKind) []models.Report {
	all := c.Snapshot()
	out := all[:0]
	for _, r := range all {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

func sortReports(reports []models.Report) {
	sort.SliceStable(reports, func(i, j int) bool {
		a, b := reports[i], reports[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.ID > b.ID
	})
}
