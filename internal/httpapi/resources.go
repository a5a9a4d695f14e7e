package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/campusgraph/advisor/internal/course"
	"github.com/campusgraph/advisor/internal/kv"
	"github.com/campusgraph/advisor/internal/store"
)

// handleGrades serves the aggregated grade statistics for one course.
func (s *Server) handleGrades(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "course_code")
	code, err := course.Normalize(raw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_course_code", raw)
		return
	}
	stats, _, err := s.Grades.Stats(r.Context(), code)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "grades_load_failed", err.Error())
		return
	}
	if stats == nil {
		writeError(w, r, http.StatusNotFound, "grades_not_found", string(code))
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleInvalidate bumps a cache tag version.
func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "tag")
	if tag == "" {
		writeError(w, r, http.StatusBadRequest, "missing_tag", "")
		return
	}
	version, err := s.TagCache.Invalidate(r.Context(), tag)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "invalidate_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tag": tag, "new_version": version})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "student_id")
	profile, err := s.Profiles.Get(r.Context(), id)
	if errors.Is(err, kv.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "profile_not_found", id)
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "profile_load_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// handlePutProfile replaces the stored profile.
func (s *Server) handlePutProfile(w http.ResponseWriter, r *http.Request) {
	profile, ok := decodeProfile(w, r)
	if !ok {
		return
	}
	if err := s.Profiles.Put(r.Context(), profile); err != nil {
		writeError(w, r, http.StatusInternalServerError, "profile_save_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// handlePatchProfile merges the incoming fields atomically.
func (s *Server) handlePatchProfile(w http.ResponseWriter, r *http.Request) {
	profile, ok := decodeProfile(w, r)
	if !ok {
		return
	}
	merged, err := s.Profiles.MergeAtomic(r.Context(), profile)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "profile_merge_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, merged)
}

func decodeProfile(w http.ResponseWriter, r *http.Request) (*store.StudentProfile, bool) {
	var profile store.StudentProfile
	if !decodeJSON(w, r, &profile) {
		return nil, false
	}
	profile.ID = chi.URLParam(r, "student_id")
	if profile.ID == "" {
		writeError(w, r, http.StatusBadRequest, "missing_student_id", "")
		return nil, false
	}
	profile.Normalize()
	return &profile, true
}

// handleCalendarExport renders the requested courses as an ICS document.
func (s *Server) handleCalendarExport(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("courses")
	if raw == "" {
		writeError(w, r, http.StatusBadRequest, "missing_courses", "courses query parameter is required")
		return
	}
	codes := parseCodes(strings.Split(raw, ","))
	if len(codes) == 0 {
		writeError(w, r, http.StatusBadRequest, "invalid_course_code", raw)
		return
	}
	ics, err := s.Calendar.Export(r.Context(), codes, r.URL.Query().Get("student_name"))
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "calendar_export_failed", err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="schedule.ics"`)
	_, _ = w.Write([]byte(ics))
}
