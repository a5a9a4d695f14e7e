package httpapi

import (
	"net/http"

	"github.com/campusgraph/advisor/internal/course"
	"github.com/campusgraph/advisor/internal/graph"
	"github.com/campusgraph/advisor/internal/store"
)

type (
	// ragRequest asks for combined similarity and prerequisite context.
	ragRequest struct {
		Message   string   `json:"message" validate:"required,min=1,max=500"`
		Completed []string `json:"completed,omitempty"`
	}

	// pathRequest targets one course with an optional completed set.
	pathRequest struct {
		Course    string   `json:"course_code" validate:"required"`
		Completed []string `json:"completed,omitempty"`
		K         int      `json:"k,omitempty" validate:"omitempty,min=1,max=10"`
	}

	// centralityRequest carries the clampable algorithm parameters.
	centralityRequest struct {
		TopN           int     `json:"top_n,omitempty"`
		Damping        float64 `json:"damping,omitempty"`
		MaxIter        int     `json:"max_iter,omitempty"`
		MinBetweenness float64 `json:"min_betweenness,omitempty"`
		MinInDegree    int     `json:"min_in_degree,omitempty"`
	}

	// semesterPlanRequest asks for a greedy prerequisite schedule.
	semesterPlanRequest struct {
		Targets               []string `json:"targets" validate:"required,min=1"`
		Completed             []string `json:"completed,omitempty"`
		Semesters             int      `json:"semesters,omitempty" validate:"omitempty,min=1,max=12"`
		MaxCreditsPerSemester int      `json:"max_credits_per_semester,omitempty" validate:"omitempty,min=1,max=30"`
	}

	// recommendationsRequest asks for eligible next courses.
	recommendationsRequest struct {
		Completed []string `json:"completed" validate:"required"`
		Limit     int      `json:"limit,omitempty" validate:"omitempty,min=1,max=50"`
	}

	// subgraphRequest extracts the neighborhood around a course set.
	subgraphRequest struct {
		Courses []string `json:"courses" validate:"required,min=1"`
	}
)

// parseCodes normalizes raw course code strings, dropping invalid entries.
func parseCodes(raw []string) []course.Code {
	out := make([]course.Code, 0, len(raw))
	for _, s := range raw {
		if code, err := course.Normalize(s); err == nil {
			out = append(out, code)
		}
	}
	return out
}

// handleRAGWithGraph combines vector similarity and prerequisite structure
// for a free-form message.
func (s *Server) handleRAGWithGraph(w http.ResponseWriter, r *http.Request) {
	var req ragRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	profile := &store.StudentProfile{Completed: parseCodes(req.Completed)}
	resp := map[string]any{}
	if payload, err := s.VectorCtx.Fetch(r.Context(), req.Message, profile); err == nil && payload != nil {
		resp["vector_search"] = payload.Data
	}
	if payload, err := s.GraphCtx.Fetch(r.Context(), req.Message, profile); err == nil && payload != nil {
		resp["graph_analysis"] = payload.Data
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePrerequisitePath(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	code, err := course.Normalize(req.Course)
	if err != nil {
		writeValidation(w, r, map[string]string{"course_code": "course_code"})
		return
	}
	limit := req.K
	if limit <= 0 {
		limit = 3
	}
	paths, err := s.Pathfinding.PrereqPaths(r.Context(), code, parseCodes(req.Completed), limit)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "graph_query_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"course": code, "paths": paths})
}

func (s *Server) handleCentrality(w http.ResponseWriter, r *http.Request) {
	var req centralityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := s.Centrality.Centrality(r.Context(), graph.CentralityParams{
		TopN:           req.TopN,
		Damping:        req.Damping,
		MaxIter:        req.MaxIter,
		MinBetweenness: req.MinBetweenness,
		MinInDegree:    req.MinInDegree,
	})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "graph_query_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCommunities(w http.ResponseWriter, r *http.Request) {
	result, err := s.Communities.Communities(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "graph_query_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleShortestPath(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	code, err := course.Normalize(req.Course)
	if err != nil {
		writeValidation(w, r, map[string]string{"course_code": "course_code"})
		return
	}
	paths, err := s.Pathfinding.ShortestPath(r.Context(), code, parseCodes(req.Completed))
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "graph_query_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"course": code, "paths": paths})
}

func (s *Server) handleAlternativePaths(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	code, err := course.Normalize(req.Course)
	if err != nil {
		writeValidation(w, r, map[string]string{"course_code": "course_code"})
		return
	}
	paths, err := s.Pathfinding.AlternativePaths(r.Context(), code, parseCodes(req.Completed), req.K)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "graph_query_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"course": code, "paths": paths})
}

func (s *Server) handleSemesterPlan(w http.ResponseWriter, r *http.Request) {
	var req semesterPlanRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	targets := parseCodes(req.Targets)
	if len(targets) == 0 {
		writeValidation(w, r, map[string]string{"targets": "course_code"})
		return
	}
	plan, err := s.Pathfinding.OptimizeSemesterPlan(r.Context(), targets, parseCodes(req.Completed), req.Semesters, req.MaxCreditsPerSemester)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "graph_query_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleCourseRecommendations(w http.ResponseWriter, r *http.Request) {
	var req recommendationsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	eligible, err := graph.EligibleCourses(r.Context(), s.Engine, parseCodes(req.Completed), req.Limit)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "graph_query_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recommendations": eligible})
}

func (s *Server) handleSubgraph(w http.ResponseWriter, r *http.Request) {
	var req subgraphRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	codes := parseCodes(req.Courses)
	if len(codes) == 0 {
		writeValidation(w, r, map[string]string{"courses": "course_code"})
		return
	}
	sub, err := graph.SubgraphAround(r.Context(), s.Engine, codes)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "graph_query_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sub)
}
