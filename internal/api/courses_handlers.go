package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"tarpaulin/internal/apierr"
	"tarpaulin/internal/models"
	"tarpaulin/internal/storage"
)

// defaultPageLimit bounds a course listing page unless the caller asks
// for a different size.
const defaultPageLimit = 3

type courseResponse struct {
	ID           string `json:"id"`
	Subject      string `json:"subject"`
	Number       int    `json:"number"`
	Title        string `json:"title"`
	Term         string `json:"term"`
	InstructorID string `json:"instructor_id"`
	Self         string `json:"self"`
}

func newCourseResponse(r *http.Request, c models.Course) courseResponse {
	return courseResponse{
		ID:           c.ID,
		Subject:      c.Subject,
		Number:       c.Number,
		Title:        c.Title,
		Term:         c.Term,
		InstructorID: c.InstructorID,
		Self:         absoluteURL(r, "/courses/"+c.ID),
	}
}

type createCourseRequest struct {
	Subject      string `json:"subject"`
	Number       int    `json:"number"`
	Title        string `json:"title"`
	Term         string `json:"term"`
	InstructorID string `json:"instructor_id"`
}

// Courses dispatches the course collection endpoints.
func (h *Handler) Courses(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createCourse(w, r)
	case http.MethodGet:
		h.listCourses(w, r)
	default:
		methodNotAllowed(w, http.MethodPost, http.MethodGet)
	}
}

func (h *Handler) createCourse(w http.ResponseWriter, r *http.Request) {
	if _, err := h.Guard.RequireAdmin(r); err != nil {
		h.writeError(w, r, err)
		return
	}
	var req createCourseRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := validateCourseFields(req.Subject, req.Number, req.Title, req.Term, req.InstructorID); err != nil {
		h.writeError(w, r, err)
		return
	}
	course, err := h.Store.CreateCourse(r.Context(), storage.CreateCourseParams{
		Subject:      strings.TrimSpace(req.Subject),
		Number:       req.Number,
		Title:        strings.TrimSpace(req.Title),
		Term:         strings.TrimSpace(req.Term),
		InstructorID: req.InstructorID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newCourseResponse(r, course))
}

func validateCourseFields(subject string, number int, title, term, instructorID string) error {
	var missing []string
	if strings.TrimSpace(subject) == "" {
		missing = append(missing, "subject")
	}
	if number <= 0 {
		missing = append(missing, "number")
	}
	if strings.TrimSpace(title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(term) == "" {
		missing = append(missing, "term")
	}
	if strings.TrimSpace(instructorID) == "" {
		missing = append(missing, "instructor_id")
	}
	if len(missing) > 0 {
		return apierr.InvalidRequest("missing or invalid fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (h *Handler) listCourses(w http.ResponseWriter, r *http.Request) {
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", defaultPageLimit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	page, err := h.Store.ListCourses(r.Context(), offset, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]courseResponse, 0, len(page.Courses))
	for _, c := range page.Courses {
		out = append(out, newCourseResponse(r, c))
	}
	body := map[string]any{"courses": out}
	if limit > 0 && offset+limit < page.Total {
		body["next"] = absoluteURL(r, fmt.Sprintf("/courses?offset=%d&limit=%d", offset+limit, limit))
	}
	writeJSON(w, http.StatusOK, body)
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, apierr.InvalidRequest("%s must be a non-negative integer", name)
	}
	return v, nil
}

// CourseByID dispatches /courses/{id} and the students sub-resource.
func (h *Handler) CourseByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/courses/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		h.course(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "students":
		h.courseStudents(w, r, parts[0])
	default:
		h.writeError(w, r, apierr.NotFound("resource not found"))
	}
}

func (h *Handler) course(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		h.getCourse(w, r, id)
	case http.MethodPatch:
		h.updateCourse(w, r, id)
	case http.MethodDelete:
		h.deleteCourse(w, r, id)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (h *Handler) getCourse(w http.ResponseWriter, r *http.Request, id string) {
	course, err := h.Store.GetCourse(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCourseResponse(r, course))
}

type updateCourseRequest struct {
	Subject      *string `json:"subject"`
	Number       *int    `json:"number"`
	Title        *string `json:"title"`
	Term         *string `json:"term"`
	InstructorID *string `json:"instructor_id"`
}

func (h *Handler) updateCourse(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := h.Guard.RequireAdmin(r); err != nil {
		h.writeError(w, r, err)
		return
	}
	var req updateCourseRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Subject == nil && req.Number == nil && req.Title == nil && req.Term == nil && req.InstructorID == nil {
		h.writeError(w, r, apierr.InvalidRequest("at least one updatable field is required"))
		return
	}
	if req.Number != nil && *req.Number <= 0 {
		h.writeError(w, r, apierr.InvalidRequest("number must be a positive integer"))
		return
	}
	course, err := h.Store.UpdateCourse(r.Context(), id, storage.CourseUpdate{
		Subject:      req.Subject,
		Number:       req.Number,
		Title:        req.Title,
		Term:         req.Term,
		InstructorID: req.InstructorID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCourseResponse(r, course))
}

func (h *Handler) deleteCourse(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := h.Guard.RequireAdmin(r); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.Store.DeleteCourse(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) courseStudents(w http.ResponseWriter, r *http.Request, courseID string) {
	switch r.Method {
	case http.MethodGet:
		h.listStudents(w, r, courseID)
	case http.MethodPatch:
		h.updateEnrollment(w, r, courseID)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPatch)
	}
}

// requireCourseStaff admits admins and the course's own instructor. The
// course lookup runs first so an unknown course is a 404, not a 403.
func (h *Handler) requireCourseStaff(r *http.Request, courseID string) (models.Course, error) {
	course, err := h.Store.GetCourse(r.Context(), courseID)
	if err != nil {
		return models.Course{}, err
	}
	user, err := h.Guard.Authenticate(r)
	if err != nil {
		return models.Course{}, err
	}
	if !user.IsAdmin() && user.ID != course.InstructorID {
		return models.Course{}, apierr.Forbidden("you don't have permission on this resource")
	}
	return course, nil
}

func (h *Handler) listStudents(w http.ResponseWriter, r *http.Request, courseID string) {
	if _, err := h.requireCourseStaff(r, courseID); err != nil {
		h.writeError(w, r, err)
		return
	}
	students, err := h.Store.ListEnrollments(r.Context(), courseID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"students": students})
}

type enrollmentRequest struct {
	Add    []string `json:"add"`
	Remove []string `json:"remove"`
}

func (h *Handler) updateEnrollment(w http.ResponseWriter, r *http.Request, courseID string) {
	if _, err := h.requireCourseStaff(r, courseID); err != nil {
		h.writeError(w, r, err)
		return
	}
	var req enrollmentRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if len(req.Add) == 0 && len(req.Remove) == 0 {
		h.writeError(w, r, apierr.InvalidRequest("add or remove must name at least one student"))
		return
	}
	if err := h.Store.UpdateEnrollment(r.Context(), courseID, req.Add, req.Remove); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}
