package api

import (
	"net/http"
	"strings"

	"golang.org/x/sync/errgroup"

	"tarpaulin/internal/apierr"
	"tarpaulin/internal/models"
)

type userSummary struct {
	ID      string      `json:"id"`
	Role    models.Role `json:"role"`
	Subject string      `json:"sub"`
}

type userDetail struct {
	ID        string      `json:"id"`
	Role      models.Role `json:"role"`
	Subject   string      `json:"sub"`
	AvatarURL string      `json:"avatar_url,omitempty"`
	Courses   []string    `json:"courses,omitempty"`
}

// Users lists all registered users. Admin only.
func (h *Handler) Users(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if _, err := h.Guard.RequireAdmin(r); err != nil {
		h.writeError(w, r, err)
		return
	}
	users, err := h.Store.ListUsers(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]userSummary, 0, len(users))
	for _, u := range users {
		out = append(out, userSummary{ID: u.ID, Role: u.Role, Subject: u.Subject})
	}
	writeJSON(w, http.StatusOK, out)
}

// UserByID dispatches /users/{id} and the avatar sub-resource.
func (h *Handler) UserByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/users/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		h.userDetail(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "avatar":
		h.avatar(w, r, parts[0])
	default:
		h.writeError(w, r, apierr.NotFound("resource not found"))
	}
}

func (h *Handler) userDetail(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if _, err := h.Guard.RequireAdminOrSelf(r, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	user, err := h.Store.GetUser(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	detail := userDetail{ID: user.ID, Role: user.Role, Subject: user.Subject}
	g, ctx := errgroup.WithContext(r.Context())
	if user.HasAvatar() {
		g.Go(func() error {
			ok, err := h.Blob.Exists(ctx, user.AvatarKey)
			if err != nil {
				return err
			}
			if ok {
				detail.AvatarURL = absoluteURL(r, "/users/"+user.ID+"/avatar")
			}
			return nil
		})
	}
	switch user.Role {
	case models.RoleInstructor:
		g.Go(func() error {
			courses, err := h.Store.CoursesForInstructor(ctx, user.ID)
			if err != nil {
				return err
			}
			detail.Courses = courseLinks(r, courses)
			return nil
		})
	case models.RoleStudent:
		g.Go(func() error {
			courses, err := h.Store.CoursesForStudent(ctx, user.ID)
			if err != nil {
				return err
			}
			detail.Courses = courseLinks(r, courses)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func courseLinks(r *http.Request, courses []models.Course) []string {
	links := make([]string, 0, len(courses))
	for _, c := range courses {
		links = append(links, absoluteURL(r, "/courses/"+c.ID))
	}
	return links
}
