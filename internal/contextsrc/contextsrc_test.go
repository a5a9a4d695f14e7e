package contextsrc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/campusgraph/advisor/internal/course"
	"github.com/campusgraph/advisor/internal/store"
)

type fakeProvider struct {
	kind    Kind
	payload *Payload
	err     error
	delay   time.Duration
}

func (p *fakeProvider) Kind() Kind { return p.kind }

func (p *fakeProvider) Fetch(ctx context.Context, _ string, _ *store.StudentProfile) (*Payload, error) {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return p.payload, p.err
}

func payloadWith(key string) *Payload {
	return &Payload{Data: map[string]any{key: "value"}, Confidence: 0.9, SourceTag: key + ":v1"}
}

func TestFetchAllPreservesRegistrationOrder(t *testing.T) {
	f := NewFetcher([]Provider{
		&fakeProvider{kind: KindVectorSearch, payload: payloadWith("vector"), delay: 20 * time.Millisecond},
		&fakeProvider{kind: KindGraphAnalysis, payload: payloadWith("graph")},
		&fakeProvider{kind: KindGradesData, payload: payloadWith("grades"), delay: 10 * time.Millisecond},
	}, time.Second, nil)

	sources := f.FetchAll(context.Background(), "msg", nil, nil)
	require.Len(t, sources, 3)
	require.Equal(t, KindVectorSearch, sources[0].Kind, "completion order never reorders sources")
	require.Equal(t, KindGraphAnalysis, sources[1].Kind)
	require.Equal(t, KindGradesData, sources[2].Kind)
	require.Equal(t, "vector:v1", sources[0].SourceTag)
	require.Positive(t, sources[0].TokenCount)
}

func TestFetchAllSkipsFailuresAndEmpties(t *testing.T) {
	f := NewFetcher([]Provider{
		&fakeProvider{kind: KindVectorSearch, err: errors.New("index down")},
		&fakeProvider{kind: KindGraphAnalysis, payload: nil},
		&fakeProvider{kind: KindGradesData, payload: payloadWith("grades")},
	}, time.Second, nil)

	sources := f.FetchAll(context.Background(), "msg", nil, nil)
	require.Len(t, sources, 1, "failed and empty providers are skipped, never fatal")
	require.Equal(t, KindGradesData, sources[0].Kind)
}

func TestFetchAllTimesOutSlowProviders(t *testing.T) {
	f := NewFetcher([]Provider{
		&fakeProvider{kind: KindVectorSearch, payload: payloadWith("vector"), delay: 500 * time.Millisecond},
		&fakeProvider{kind: KindGradesData, payload: payloadWith("grades")},
	}, 30*time.Millisecond, nil)

	start := time.Now()
	sources := f.FetchAll(context.Background(), "msg", nil, nil)
	require.Less(t, time.Since(start), 300*time.Millisecond, "slow providers are cut at the deadline")
	require.Len(t, sources, 1)
	require.Equal(t, KindGradesData, sources[0].Kind)
}

func TestFetchAllHonorsEnabledMap(t *testing.T) {
	f := NewFetcher([]Provider{
		&fakeProvider{kind: KindScheduleFit, payload: payloadWith("fit")},
		&fakeProvider{kind: KindGradesData, payload: payloadWith("grades")},
	}, time.Second, nil)

	sources := f.FetchAll(context.Background(), "msg", nil, map[Kind]bool{KindScheduleFit: false})
	require.Len(t, sources, 1)
	require.Equal(t, KindGradesData, sources[0].Kind)

	sources = f.FetchAll(context.Background(), "msg", nil, map[Kind]bool{KindScheduleFit: true})
	require.Len(t, sources, 2, "explicitly enabled kinds run")
}

func TestCandidateCodes(t *testing.T) {
	profile := &store.StudentProfile{
		Current: []course.Code{"CS 2110"},
		Planned: []course.Code{"CS 3110", "CS 2110"},
	}

	require.Equal(t, []course.Code{"MATH 1920"}, candidateCodes("thinking about MATH 1920", profile),
		"message mentions win over the profile")
	require.Equal(t, []course.Code{"CS 2110", "CS 3110"}, candidateCodes("no codes here", profile),
		"falls back to current then planned, deduped")
	require.Empty(t, candidateCodes("nothing", nil))
}
