package storage

import (
	"context"

	"tarpaulin/internal/models"
)

// Repository exposes the datastore operations required by the API handlers.
// Two implementations exist: the in-memory/JSON-file store and the Postgres
// store. Both enforce the same referential rules: a course's instructor must
// be a user with the instructor role, and enrollment records may only
// reference students.
type Repository interface {
	Ping(ctx context.Context) error
	Close(ctx context.Context) error

	CreateUser(ctx context.Context, params CreateUserParams) (models.User, error)
	GetUser(ctx context.Context, id string) (models.User, error)
	GetUserBySubject(ctx context.Context, subject string) (models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	SetUserAvatar(ctx context.Context, id, avatarKey string) (models.User, error)

	CreateCourse(ctx context.Context, params CreateCourseParams) (models.Course, error)
	GetCourse(ctx context.Context, id string) (models.Course, error)
	ListCourses(ctx context.Context, offset, limit int) (CoursePage, error)
	UpdateCourse(ctx context.Context, id string, update CourseUpdate) (models.Course, error)
	DeleteCourse(ctx context.Context, id string) error

	ListEnrollments(ctx context.Context, courseID string) ([]string, error)
	CoursesForInstructor(ctx context.Context, instructorID string) ([]models.Course, error)
	CoursesForStudent(ctx context.Context, studentID string) ([]models.Course, error)
	UpdateEnrollment(ctx context.Context, courseID string, add, remove []string) error
}

// CreateUserParams provisions a user record for an identity-provider
// subject. Role is fixed once created.
type CreateUserParams struct {
	Subject string
	Role    models.Role
}

// CreateCourseParams carries the attributes of a new course. All fields are
// required; InstructorID must reference an instructor.
type CreateCourseParams struct {
	Subject      string
	Number       int
	Title        string
	Term         string
	InstructorID string
}

// CourseUpdate applies a partial update: nil fields are left unchanged.
type CourseUpdate struct {
	Subject      *string
	Number       *int
	Title        *string
	Term         *string
	InstructorID *string
}

// CoursePage is one offset/limit window over the course collection together
// with the collection's total size, which the handler needs to decide
// whether a next page exists.
type CoursePage struct {
	Courses []models.Course
	Total   int
}
