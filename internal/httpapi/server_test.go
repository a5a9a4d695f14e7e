package httpapi_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/campusgraph/advisor/internal/advisor"
	"github.com/campusgraph/advisor/internal/cache"
	"github.com/campusgraph/advisor/internal/calendar"
	"github.com/campusgraph/advisor/internal/contextsrc"
	"github.com/campusgraph/advisor/internal/graph"
	"github.com/campusgraph/advisor/internal/httpapi"
	"github.com/campusgraph/advisor/internal/kv"
	"github.com/campusgraph/advisor/internal/llm"
	"github.com/campusgraph/advisor/internal/mock"
	"github.com/campusgraph/advisor/internal/provenance"
	"github.com/campusgraph/advisor/internal/schema"
	"github.com/campusgraph/advisor/internal/store"
)

const gradesCSV = `course_id,term,mean_gpa,grade_a_pct,grade_b_pct,grade_c_pct,grade_d_pct,grade_f_pct,enrollment_count,difficulty_percentile
CS 3110,FA24,3.2,40,30,20,5,5,250,70
CS 3110,SP24,3.4,45,30,15,5,5,240,68
`

// newTestServer wires the full API over the mocked backends and miniredis.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	kvStore := kv.New(client, time.Second)

	registry := prometheus.NewRegistry()
	tagCache := cache.New(kvStore, cache.NewMetrics(registry))
	provStore := provenance.NewStore(kvStore, provenance.NewMetrics(registry))

	profiles := store.NewProfileStore(kvStore, time.Hour)
	conversations := store.NewConversationStore(kvStore, profiles, time.Hour, 20)

	engine, err := mock.NewEngine()
	require.NoError(t, err)
	roster, err := mock.NewRoster()
	require.NoError(t, err)
	embedder := mock.NewEmbedder(0)
	vectorIdx, err := mock.VectorIndex(embedder)
	require.NoError(t, err)

	catalog := graph.NewCatalogManager(engine)
	pathfinding := graph.NewPathfindingService(engine, catalog)

	csvPath := filepath.Join(t.TempDir(), "grades.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(gradesCSV), 0o644))
	gradesCtx := contextsrc.NewGradesContext(csvPath, tagCache, provStore, time.Hour)
	vectorCtx := contextsrc.NewVectorContext(embedder, vectorIdx, kvStore, tagCache, 5)
	graphCtx := contextsrc.NewGraphContext(pathfinding, tagCache)

	fetcher := contextsrc.NewFetcher(
		[]contextsrc.Provider{vectorCtx, graphCtx, gradesCtx},
		2*time.Second, contextsrc.NewMetrics(registry))

	router, err := llm.NewRouter(mock.NewBackend("local-vllm"), mock.NewBackend("openai-fallback"), time.Second)
	require.NoError(t, err)
	enforcer, err := schema.NewEnforcer(schema.NewMetrics(registry))
	require.NoError(t, err)

	srv := &httpapi.Server{
		Orchestrator: advisor.NewOrchestrator(conversations, profiles, fetcher,
			contextsrc.NewBudgetManager(4000), router, enforcer, kvStore, advisor.NewMetrics(registry)),
		Conversations: conversations,
		Profiles:      profiles,
		TagCache:      tagCache,
		Grades:        gradesCtx,
		VectorCtx:     vectorCtx,
		GraphCtx:      graphCtx,
		Engine:        engine,
		Centrality:    graph.NewCentralityService(engine, catalog),
		Communities:   graph.NewCommunityService(engine, catalog),
		Pathfinding:   pathfinding,
		Calendar:      calendar.NewExporter(roster, "FA26"),
		Version:       "test",
		Registry:      registry,
		Heartbeat:     50 * time.Millisecond,
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	resp, body := getJSON(t, ts.URL+"/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", body["status"])
	require.Equal(t, "test", body["version"])
	services, ok := body["services"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, true, services["neo4j"], "nil pinger means the backend is in-process")
	require.Equal(t, true, services["qdrant"])
}

func TestCentralityEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, body := postJSON(t, ts.URL+"/api/centrality", `{"top_n": 5}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	pagerank, ok := body["pagerank"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, pagerank)
	top := pagerank[0].(map[string]any)
	require.Equal(t, "CS 2110", top["course_code"])
	require.Equal(t, 1.0, top["rank"])
}

func TestCentralityRejectsUnknownFields(t *testing.T) {
	ts := newTestServer(t)

	resp, body := postJSON(t, ts.URL+"/api/centrality", `{"bogus": true}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "invalid_json", body["error"])
}

func TestPrerequisitePathValidation(t *testing.T) {
	ts := newTestServer(t)

	resp, body := postJSON(t, ts.URL+"/api/prerequisite_path", `{}`)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.Equal(t, "validation_failed", body["error"])

	resp, body = postJSON(t, ts.URL+"/api/prerequisite_path", `{"course_code": "not a course"}`)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.Equal(t, "validation_failed", body["error"])
}

func TestShortestPathEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, body := postJSON(t, ts.URL+"/api/shortest_path",
		`{"course_code": "cs3110", "completed": ["CS 1110"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "CS 3110", body["course"], "course code normalizes on the way in")
	paths, ok := body["paths"].([]any)
	require.True(t, ok)
	require.Len(t, paths, 1)
}

func TestSemesterPlanEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, body := postJSON(t, ts.URL+"/api/semester_plan",
		`{"targets": ["CS 4820"], "completed": ["CS 1110"], "semesters": 3, "max_credits_per_semester": 4}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	semesters, ok := body["semester_plans"].([]any)
	require.True(t, ok)
	require.Len(t, semesters, 3)
}

func TestCourseRecommendationsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, body := postJSON(t, ts.URL+"/api/course_recommendations",
		`{"completed": ["CS 1110", "CS 2110"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	recs, ok := body["recommendations"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, recs)
	first := recs[0].(map[string]any)
	require.Equal(t, "CS 3110", first["course_code"])
}

func TestProfileLifecycle(t *testing.T) {
	ts := newTestServer(t)

	resp, body := getJSON(t, ts.URL+"/profiles/stu-1")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "profile_not_found", body["error"])

	put, err := http.NewRequest(http.MethodPut, ts.URL+"/profiles/stu-1",
		strings.NewReader(`{"major": "CS", "completed": ["cs1110"], "gpa": 3.4}`))
	require.NoError(t, err)
	resp2, err := http.DefaultClient.Do(put)
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	resp, body = getJSON(t, ts.URL+"/profiles/stu-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "CS", body["major"])
	require.Equal(t, []any{"CS 1110"}, body["completed"], "codes normalize before storage")

	patch, err := http.NewRequest(http.MethodPatch, ts.URL+"/profiles/stu-1",
		strings.NewReader(`{"track": "ML", "completed": ["CS 1110", "CS 2110"]}`))
	require.NoError(t, err)
	resp3, err := http.DefaultClient.Do(patch)
	require.NoError(t, err)
	defer resp3.Body.Close()
	require.Equal(t, http.StatusOK, resp3.StatusCode)
	var merged map[string]any
	require.NoError(t, json.NewDecoder(resp3.Body).Decode(&merged))
	require.Equal(t, "CS", merged["major"], "untouched fields survive the merge")
	require.Equal(t, "ML", merged["track"])
	require.Equal(t, []any{"CS 1110", "CS 2110"}, merged["completed"])
}

func TestGradesEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, body := getJSON(t, ts.URL+"/grades/CS%203110")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "CS 3110", body["course_code"])
	require.InDelta(t, 3.3, body["mean_gpa"].(float64), 1e-9)

	resp, body = getJSON(t, ts.URL+"/grades/CS%209999")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "grades_not_found", body["error"])

	resp, body = getJSON(t, ts.URL+"/grades/nonsense")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "invalid_course_code", body["error"])
}

func TestCacheInvalidateEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, body := postJSON(t, ts.URL+"/admin/cache/invalidate/professors", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "professors", body["tag"])
	require.Equal(t, 2.0, body["new_version"], "first bump moves the implicit v1 to v2")
}

func TestCalendarExportEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/calendar/export.ics?courses=CS%201110,CS%203110&student_name=Ada")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/calendar; charset=utf-8", resp.Header.Get("Content-Type"))

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	ics := string(raw)
	require.Contains(t, ics, "BEGIN:VCALENDAR")
	require.Contains(t, ics, "SUMMARY:CS 1110")
	require.Contains(t, ics, "SUMMARY:CS 3110")

	resp2, err := http.Get(ts.URL + "/calendar/export.ics")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestConversationNotFound(t *testing.T) {
	ts := newTestServer(t)

	resp, body := getJSON(t, ts.URL+"/api/chat/conversation/unknown")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "conversation_not_found", body["error"])
}

func TestChatStreamsSSE(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/chat", "application/json",
		bytes.NewReader([]byte(`{"message": "Should I take CS 3110 next?", "student_profile": {"id": "stu-1", "major": "CS", "completed": ["CS 1110", "CS 2110"]}}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := string(raw)
	require.Contains(t, body, "event: connection")
	require.Contains(t, body, "retry: 3000")
	require.Contains(t, body, "event: token")
	require.Contains(t, body, "event: done")
	require.Contains(t, body, "stream_complete")
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	ts := newTestServer(t)

	resp, body := postJSON(t, ts.URL+"/api/chat", `{"message": ""}`)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.Equal(t, "validation_failed", body["error"])
}
