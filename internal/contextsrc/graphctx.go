package contextsrc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/campusgraph/advisor/internal/cache"
	"github.com/campusgraph/advisor/internal/course"
	"github.com/campusgraph/advisor/internal/graph"
	"github.com/campusgraph/advisor/internal/store"
)

type (
	// GraphContext fetches the prerequisite structure around the first
	// course mentioned in the message.
	GraphContext struct {
		paths *graph.PathfindingService
		cache *cache.TagCache
	}
)

const (
	// graphCtxTTL caches prerequisite neighborhoods for six hours.
	graphCtxTTL = 6 * time.Hour
	// graphCtxMaxPaths bounds the candidate chains returned.
	graphCtxMaxPaths = 3
)

// NewGraphContext builds the provider.
func NewGraphContext(paths *graph.PathfindingService, tagCache *cache.TagCache) *GraphContext {
	return &GraphContext{paths: paths, cache: tagCache}
}

// Kind implements Provider.
func (p *GraphContext) Kind() Kind { return KindGraphAnalysis }

// Fetch implements Provider.
func (p *GraphContext) Fetch(ctx context.Context, message string, profile *store.StudentProfile) (*Payload, error) {
	codes := candidateCodes(message, profile)
	if len(codes) == 0 {
		return nil, nil
	}
	target := codes[0]
	var completed []course.Code
	if profile != nil {
		completed = course.SortCodes(profile.Completed)
	}
	raw, hit, err := p.cache.GetOrSet(ctx, "graphctx",
		map[string]any{"course": target, "completed": course.CodeStrings(completed)}, graphCtxTTL,
		func(ctx context.Context) (any, error) {
			paths, err := p.paths.PrereqPaths(ctx, target, completed, graphCtxMaxPaths)
			if err != nil {
				return nil, err
			}
			chains := make([]map[string]any, 0, len(paths))
			for _, path := range paths {
				chains = append(chains, map[string]any{"courses": path.Courses, "hops": path.Cost})
			}
			return map[string]any{"course": target, "prerequisite_paths": chains}, nil
		})
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("contextsrc: graph decode: %w", err)
	}
	if paths, ok := data["prerequisite_paths"].([]any); !ok || len(paths) == 0 {
		return nil, nil
	}
	return &Payload{
		Data:       data,
		Confidence: 0.9,
		CacheHit:   hit,
		Version:    p.cache.Version(ctx, "graphctx"),
		SourceTag:  "graph",
	}, nil
}
