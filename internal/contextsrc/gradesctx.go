package contextsrc

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"goa.design/clue/log"

	"github.com/campusgraph/advisor/internal/cache"
	"github.com/campusgraph/advisor/internal/course"
	"github.com/campusgraph/advisor/internal/grades"
	"github.com/campusgraph/advisor/internal/provenance"
	"github.com/campusgraph/advisor/internal/store"
)

type (
	// GradesContext serves historical grade statistics aggregated from the
	// grades CSV, with provenance recorded per course.
	GradesContext struct {
		path  string
		cache *cache.TagCache
		prov  *provenance.Store
		ttl   time.Duration

		mu sync.Mutex
		ds *grades.Dataset
	}
)

// NewGradesContext builds the provider over the CSV at path. ttl <= 0
// defaults to 24h; prov may be nil to skip provenance recording.
func NewGradesContext(path string, tagCache *cache.TagCache, prov *provenance.Store, ttl time.Duration) *GradesContext {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &GradesContext{path: path, cache: tagCache, prov: prov, ttl: ttl}
}

// Kind implements Provider.
func (p *GradesContext) Kind() Kind { return KindGradesData }

// Fetch implements Provider.
func (p *GradesContext) Fetch(ctx context.Context, message string, profile *store.StudentProfile) (*Payload, error) {
	codes := candidateCodes(message, profile)
	if len(codes) == 0 {
		return nil, nil
	}
	ds, err := p.dataset()
	if err != nil {
		return nil, err
	}
	perCourse := make(map[string]any, len(codes))
	anyHit := false
	for _, code := range codes {
		stats, hit, err := p.Stats(ctx, code)
		if err != nil || stats == nil {
			continue
		}
		anyHit = anyHit || hit
		perCourse[string(code)] = stats
	}
	if len(perCourse) == 0 {
		return nil, nil
	}
	return &Payload{
		Data:       map[string]any{"courses": perCourse, "file_hash": ds.FileHash},
		Confidence: 0.95,
		CacheHit:   anyHit,
		Version:    p.cache.Version(ctx, "grades"),
		SourceTag:  "grades_data",
	}, nil
}

// Stats returns the cached aggregate for one course, or nil when the CSV has
// no rows for it. Provenance is written on every fresh aggregation.
func (p *GradesContext) Stats(ctx context.Context, code course.Code) (*grades.Stats, bool, error) {
	ds, err := p.dataset()
	if err != nil {
		return nil, false, err
	}
	rows, ok := ds.ByCourse[code]
	if !ok {
		return nil, false, nil
	}
	raw, hit, err := p.cache.GetOrSet(ctx, "grades",
		map[string]any{"course": code, "file_hash": ds.FileHash}, p.ttl,
		func(ctx context.Context) (any, error) {
			stats, err := grades.Aggregate(code, rows)
			if err != nil {
				return nil, err
			}
			p.recordProvenance(ctx, code, stats, ds.FileHash)
			return stats, nil
		})
	if err != nil {
		return nil, false, err
	}
	var stats grades.Stats
	if err := json.Unmarshal(raw, &stats); err != nil {
		return nil, false, err
	}
	return &stats, hit, nil
}

func (p *GradesContext) recordProvenance(ctx context.Context, code course.Code, stats *grades.Stats, fileHash string) {
	if p.prov == nil {
		return
	}
	dataVersion, err := stats.DataVersion()
	if err != nil {
		return
	}
	tag := provenance.Tag{
		Source:      "grades_csv",
		EntityID:    string(code),
		DataVersion: dataVersion,
		TTLSeconds:  int64(p.ttl / time.Second),
		Meta:        map[string]any{"file_hash": fileHash},
	}
	if err := p.prov.Put(ctx, tag); err != nil {
		log.Debugf(ctx, "contextsrc: grades provenance %s: %v", code, err)
	}
}

// dataset lazily loads and memoizes the CSV.
func (p *GradesContext) dataset() (*grades.Dataset, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ds != nil {
		return p.ds, nil
	}
	ds, err := grades.LoadFile(p.path)
	if err != nil {
		return nil, err
	}
	p.ds = ds
	return ds, nil
}
