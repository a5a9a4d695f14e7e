// Package provenance records where each cached or returned datum came from:
// source, versions, content hash, and lifetime. Tags drive staleness checks
// (hard expiry versus soft refresh) and version-change invalidation.
package provenance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/campusgraph/advisor/internal/kv"
)

type (
	// Tag is the attribution record for one entity from one source.
	Tag struct {
		Source      string         `json:"source"`
		EntityID    string         `json:"entity_id"`
		Tenant      string         `json:"tenant,omitempty"`
		Version     string         `json:"version,omitempty"`
		DataVersion string         `json:"data_version,omitempty"`
		ObservedAt  *time.Time     `json:"observed_at,omitempty"`
		FetchedAt   time.Time      `json:"fetched_at"`
		ExpiresAt   *time.Time     `json:"expires_at,omitempty"`
		TTLSeconds  int64          `json:"ttl_seconds"`
		SoftTTL     int64          `json:"soft_ttl_seconds,omitempty"`
		Meta        map[string]any `json:"meta,omitempty"`
	}

	// Staleness classifies a tag at a point in time.
	Staleness int

	// Store persists tags under prov:{source}:{entity_id} with a monthly
	// membership index per source.
	Store struct {
		kv      *kv.Store
		metrics *Metrics
		now     func() time.Time
	}

	// Metrics carries provenance instrumentation. Nil disables recording.
	Metrics struct {
		IndexSize     *prometheus.GaugeVec
		Invalidations *prometheus.CounterVec
	}
)

const (
	// Fresh: tag present and inside both TTLs.
	Fresh Staleness = iota
	// SoftStale: past the soft TTL; serve but refresh in the background.
	SoftStale
	// HardStale: missing or past expiry; must be refetched.
	HardStale
)

// indexTTL keeps monthly index sets for 60 days.
const indexTTL = 60 * 24 * time.Hour

// NewMetrics registers the provenance collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		IndexSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "provenance_index_entities", Help: "Entities tracked per source and month.",
		}, []string{"source", "month"}),
		Invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "provenance_invalidate_total", Help: "Version-change invalidations.",
		}, []string{"source", "reason"}),
	}
	reg.MustRegister(m.IndexSize, m.Invalidations)
	return m
}

// NewStore builds a provenance store. metrics may be nil.
func NewStore(store *kv.Store, metrics *Metrics) *Store {
	return &Store{kv: store, metrics: metrics, now: time.Now}
}

func tagKey(source, entityID string) string {
	return fmt.Sprintf("prov:%s:%s", source, entityID)
}

func indexKey(source string, t time.Time) string {
	return fmt.Sprintf("prov:index:%s:%s", source, t.UTC().Format("200601"))
}

// Put stores a tag and registers its entity in the monthly index. Both writes
// share one pipeline; the index gauge moves only when the entity is new to
// the month.
func (s *Store) Put(ctx context.Context, tag Tag) error {
	if tag.Source == "" || tag.EntityID == "" {
		return errors.New("provenance: source and entity_id are required")
	}
	if tag.FetchedAt.IsZero() {
		tag.FetchedAt = s.now()
	}
	if tag.ExpiresAt == nil && tag.TTLSeconds > 0 {
		exp := tag.FetchedAt.Add(time.Duration(tag.TTLSeconds) * time.Second)
		tag.ExpiresAt = &exp
	}
	raw, err := json.Marshal(tag)
	if err != nil {
		return fmt.Errorf("provenance: encode: %w", err)
	}
	idx := indexKey(tag.Source, tag.FetchedAt)
	var added *redis.IntCmd
	err = s.kv.Pipeline(ctx, func(p redis.Pipeliner) error {
		ttl := time.Duration(tag.TTLSeconds) * time.Second
		p.Set(ctx, tagKey(tag.Source, tag.EntityID), raw, ttl)
		added = p.SAdd(ctx, idx, tag.EntityID)
		p.Expire(ctx, idx, indexTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("provenance: put %s/%s: %w", tag.Source, tag.EntityID, err)
	}
	if s.metrics != nil && added != nil && added.Val() == 1 {
		s.metrics.IndexSize.WithLabelValues(tag.Source, tag.FetchedAt.UTC().Format("200601")).Inc()
	}
	return nil
}

// Get loads the tag for (source, entityID), or kv.ErrNotFound.
func (s *Store) Get(ctx context.Context, source, entityID string) (*Tag, error) {
	raw, err := s.kv.Get(ctx, tagKey(source, entityID))
	if err != nil {
		return nil, err
	}
	var tag Tag
	if err := json.Unmarshal([]byte(raw), &tag); err != nil {
		return nil, fmt.Errorf("provenance: decode %s/%s: %w", source, entityID, err)
	}
	return &tag, nil
}

// Check classifies the staleness of (source, entityID) now. A missing tag is
// hard stale.
func (s *Store) Check(ctx context.Context, source, entityID string) Staleness {
	tag, err := s.Get(ctx, source, entityID)
	if err != nil {
		return HardStale
	}
	return tag.StalenessAt(s.now())
}

// StalenessAt classifies the tag at time t.
func (tag *Tag) StalenessAt(t time.Time) Staleness {
	if tag.ExpiresAt != nil && !t.Before(*tag.ExpiresAt) {
		return HardStale
	}
	if tag.SoftTTL > 0 && !t.Before(tag.FetchedAt.Add(time.Duration(tag.SoftTTL)*time.Second)) {
		return SoftStale
	}
	return Fresh
}

// InvalidateOnVersionChange deletes the tag when the recorded version or data
// version differs from the current ones, invoking dropCache (when non-nil)
// so the owning cache layer can bump its tag version. Reasons are drawn from
// a fixed label set to keep metric cardinality bounded.
func (s *Store) InvalidateOnVersionChange(ctx context.Context, source, entityID, currentVersion, currentDataVersion string, dropCache func(context.Context) error) (bool, error) {
	tag, err := s.Get(ctx, source, entityID)
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	reason := ""
	switch {
	case currentVersion != "" && tag.Version != currentVersion:
		reason = "version_changed"
	case currentDataVersion != "" && tag.DataVersion != currentDataVersion:
		reason = "data_version_changed"
	default:
		return false, nil
	}
	if err := s.kv.Del(ctx, tagKey(source, entityID)); err != nil {
		return false, fmt.Errorf("provenance: invalidate %s/%s: %w", source, entityID, err)
	}
	if s.metrics != nil {
		s.metrics.Invalidations.WithLabelValues(source, reason).Inc()
	}
	if dropCache != nil {
		if err := dropCache(ctx); err != nil {
			return true, fmt.Errorf("provenance: drop cache for %s/%s: %w", source, entityID, err)
		}
	}
	return true, nil
}
