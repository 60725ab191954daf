package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"tarpaulin/internal/storage"
)

func TestUsersListRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)

	rec := httptest.NewRecorder()
	env.handler.Users(rec, env.request(t, http.MethodGet, "/users", nil, ""))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 without token, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	env.handler.Users(rec, env.request(t, http.MethodGet, "/users", nil, env.student.Subject))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status 403 for student, got %d", rec.Code)
	}
}

func TestUsersListReturnsAllUsers(t *testing.T) {
	env := newTestEnv(t)

	rec := httptest.NewRecorder()
	env.handler.Users(rec, env.request(t, http.MethodGet, "/users", nil, env.admin.Subject))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var users []userSummary
	decodeBody(t, rec, &users)
	if len(users) != 4 {
		t.Fatalf("expected 4 users, got %d", len(users))
	}
	for _, u := range users {
		if u.ID == "" || u.Subject == "" || u.Role == "" {
			t.Fatalf("incomplete user summary: %+v", u)
		}
	}
}

func TestUserDetailAdminOrSelf(t *testing.T) {
	env := newTestEnv(t)
	target := "/users/" + env.student.ID

	rec := httptest.NewRecorder()
	env.handler.UserByID(rec, env.request(t, http.MethodGet, target, nil, env.student2.Subject))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status 403 for another student, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	env.handler.UserByID(rec, env.request(t, http.MethodGet, target, nil, env.student.Subject))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 for self, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	env.handler.UserByID(rec, env.request(t, http.MethodGet, target, nil, env.admin.Subject))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 for admin, got %d", rec.Code)
	}
}

func TestUserDetailIncludesCourseLinks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	course, err := env.store.CreateCourse(ctx, storage.CreateCourseParams{
		Subject: "CS", Number: 493, Title: "Cloud Application Development",
		Term: "sp26", InstructorID: env.instructor.ID,
	})
	if err != nil {
		t.Fatalf("CreateCourse: %v", err)
	}
	if err := env.store.UpdateEnrollment(ctx, course.ID, []string{env.student.ID}, nil); err != nil {
		t.Fatalf("UpdateEnrollment: %v", err)
	}

	rec := httptest.NewRecorder()
	env.handler.UserByID(rec, env.request(t, http.MethodGet, "/users/"+env.instructor.ID, nil, env.instructor.Subject))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var detail userDetail
	decodeBody(t, rec, &detail)
	if len(detail.Courses) != 1 || !strings.HasSuffix(detail.Courses[0], "/courses/"+course.ID) {
		t.Fatalf("expected taught course link, got %v", detail.Courses)
	}

	rec = httptest.NewRecorder()
	env.handler.UserByID(rec, env.request(t, http.MethodGet, "/users/"+env.student.ID, nil, env.student.Subject))
	detail = userDetail{}
	decodeBody(t, rec, &detail)
	if len(detail.Courses) != 1 || !strings.HasSuffix(detail.Courses[0], "/courses/"+course.ID) {
		t.Fatalf("expected enrolled course link, got %v", detail.Courses)
	}

	rec = httptest.NewRecorder()
	env.handler.UserByID(rec, env.request(t, http.MethodGet, "/users/"+env.admin.ID, nil, env.admin.Subject))
	detail = userDetail{}
	decodeBody(t, rec, &detail)
	if detail.Courses != nil {
		t.Fatalf("expected no course list for admin, got %v", detail.Courses)
	}
}

func TestUserDetailIncludesAvatarURLWhenPresent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	key := "avatars/" + env.student.ID
	if err := env.blob.Put(ctx, key, "image/png", []byte{0x89, 'P', 'N', 'G'}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := env.store.SetUserAvatar(ctx, env.student.ID, key); err != nil {
		t.Fatalf("SetUserAvatar: %v", err)
	}

	rec := httptest.NewRecorder()
	env.handler.UserByID(rec, env.request(t, http.MethodGet, "/users/"+env.student.ID, nil, env.student.Subject))
	var detail userDetail
	decodeBody(t, rec, &detail)
	if !strings.HasSuffix(detail.AvatarURL, "/users/"+env.student.ID+"/avatar") {
		t.Fatalf("expected avatar url, got %q", detail.AvatarURL)
	}
}

func TestUserDetailUnknownIDNotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := httptest.NewRecorder()
	env.handler.UserByID(rec, env.request(t, http.MethodGet, "/users/missing", nil, env.admin.Subject))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
}
