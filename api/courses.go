package api

import (
	"log/slog"
	"net/http"
)

// CoursesHandler serves catalog analytics.
type CoursesHandler struct {
	service QueryService
	logger  *slog.Logger
}

// NewCoursesHandler creates the courses handler.
func NewCoursesHandler(service QueryService, logger *slog.Logger) *CoursesHandler {
	return &CoursesHandler{service: service, logger: logger}
}

// RegisterRoutes registers course routes on the given mux.
func (h *CoursesHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/courses", h.stats)
}

// CourseStatsResponse is the body of GET /api/courses.
type CourseStatsResponse struct {
	TotalCourses int      `json:"total_courses"`
	CourseTitles []string `json:"course_titles"`
}

func (h *CoursesHandler) stats(w http.ResponseWriter, r *http.Request) {
	analytics, err := h.service.CourseAnalytics(r.Context())
	if err != nil {
		h.logger.Error("course analytics failed", "error", err)
		writeError(w, http.StatusInternalServerError, "analytics_failed", "failed to load course analytics")
		return
	}

	titles := analytics.CourseTitles
	if titles == nil {
		titles = []string{}
	}
	writeJSON(w, http.StatusOK, CourseStatsResponse{
		TotalCourses: analytics.TotalCourses,
		CourseTitles: titles,
	})
}
