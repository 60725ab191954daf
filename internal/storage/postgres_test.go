package storage

import (
	"context"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tarpaulin/internal/apierr"
	"tarpaulin/internal/models"
)

func newMockRepo(t *testing.T) (*postgresRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return newPostgresRepositoryWithDB(mock), mock
}

func TestPostgresGetUser(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, subject, role, avatar_key FROM users WHERE id = $1`)).
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "subject", "role", "avatar_key"}).
			AddRow("u1", "auth0|alice", "instructor", ""))

	user, err := repo.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleInstructor, user.Role)
	assert.Equal(t, "auth0|alice", user.Subject)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetUserNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, subject, role, avatar_key FROM users WHERE id = $1`)).
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"id", "subject", "role", "avatar_key"}))

	_, err := repo.GetUser(context.Background(), "missing")
	assert.True(t, apierr.IsNotFound(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreateUserDuplicateSubject(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO users (id, subject, role, avatar_key) VALUES ($1, $2, $3, '')`)).
		WithArgs(pgxmock.AnyArg(), "auth0|alice", "student").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	_, err := repo.CreateUser(context.Background(), CreateUserParams{Subject: "auth0|alice", Role: models.RoleStudent})
	assert.True(t, apierr.IsConflict(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListCoursesPage(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM courses`)).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(5))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, subject, number, title, term, instructor_id FROM courses ORDER BY subject, number, id OFFSET $1 LIMIT $2`)).
		WithArgs(0, 3).
		WillReturnRows(pgxmock.NewRows([]string{"id", "subject", "number", "title", "term", "instructor_id"}).
			AddRow("c1", "AR", 101, "Art", "fall-25", "u1").
			AddRow("c2", "BI", 101, "Bio", "fall-25", "u1").
			AddRow("c3", "CS", 493, "Cloud", "fall-25", "u1"))

	page, err := repo.ListCourses(context.Background(), 0, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	require.Len(t, page.Courses, 3)
	assert.Equal(t, "AR", page.Courses[0].Subject)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeleteCourseCascadesFirst(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM enrollments WHERE course_id = $1`)).
		WithArgs("c1").
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM courses WHERE id = $1`)).
		WithArgs("c1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, repo.DeleteCourse(context.Background(), "c1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeleteCourseNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM enrollments WHERE course_id = $1`)).
		WithArgs("missing").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM courses WHERE id = $1`)).
		WithArgs("missing").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := repo.DeleteCourse(context.Background(), "missing")
	assert.True(t, apierr.IsNotFound(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func courseRow(id string) *pgxmock.Rows {
	return pgxmock.NewRows([]string{"id", "subject", "number", "title", "term", "instructor_id"}).
		AddRow(id, "CS", 493, "Cloud", "fall-25", "u1")
}

func TestPostgresUpdateEnrollmentOverlapConflict(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, subject, number, title, term, instructor_id FROM courses WHERE id = $1`)).
		WithArgs("c1").
		WillReturnRows(courseRow("c1"))

	err := repo.UpdateEnrollment(context.Background(), "c1", []string{"s1"}, []string{"s1"})
	assert.True(t, apierr.IsConflict(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateEnrollmentRejectsNonStudents(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, subject, number, title, term, instructor_id FROM courses WHERE id = $1`)).
		WithArgs("c1").
		WillReturnRows(courseRow("c1"))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(DISTINCT id) FROM users WHERE id = ANY($1) AND role = 'student'`)).
		WithArgs([]string{"s1", "s2"}).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))

	err := repo.UpdateEnrollment(context.Background(), "c1", []string{"s1", "s2"}, nil)
	assert.True(t, apierr.IsConflict(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateEnrollmentWrites(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, subject, number, title, term, instructor_id FROM courses WHERE id = $1`)).
		WithArgs("c1").
		WillReturnRows(courseRow("c1"))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(DISTINCT id) FROM users WHERE id = ANY($1) AND role = 'student'`)).
		WithArgs([]string{"s1", "s2"}).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO enrollments (course_id, student_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`)).
		WithArgs("c1", "s1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM enrollments WHERE course_id = $1 AND student_id = ANY($2)`)).
		WithArgs("c1", []string{"s2"}).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	require.NoError(t, repo.UpdateEnrollment(context.Background(), "c1", []string{"s1"}, []string{"s2"}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateCoursePartialSet(t *testing.T) {
	repo, mock := newMockRepo(t)
	title := "New Title"
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE courses SET title = $2 WHERE id = $1 RETURNING id, subject, number, title, term, instructor_id`)).
		WithArgs("c1", "New Title").
		WillReturnRows(pgxmock.NewRows([]string{"id", "subject", "number", "title", "term", "instructor_id"}).
			AddRow("c1", "CS", 493, "New Title", "fall-25", "u1"))

	course, err := repo.UpdateCourse(context.Background(), "c1", CourseUpdate{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "New Title", course.Title)
	require.NoError(t, mock.ExpectationsWereMet())
}
