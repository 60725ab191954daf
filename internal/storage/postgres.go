package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tarpaulin/internal/apierr"
	"tarpaulin/internal/models"
)

// PostgresConfig describes how the repository initialises its Postgres
// connection pool.
type PostgresConfig struct {
	DSN                 string
	MaxConnections      int32
	MinConnections      int32
	MaxConnLifetime     time.Duration
	MaxConnIdleTime     time.Duration
	HealthCheckInterval time.Duration
	AcquireTimeout      time.Duration
	ApplicationName     string
}

func newPostgresConfig(dsn string, opts ...Option) PostgresConfig {
	cfg := PostgresConfig{DSN: dsn}
	for _, opt := range opts {
		if opt != nil {
			opt.applyPostgres(&cfg)
		}
	}
	return cfg
}

// pgxPool is the subset of pgxpool.Pool the repository uses; pgxmock
// provides the same surface for unit tests.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

type postgresRepository struct {
	db  pgxPool
	cfg PostgresConfig
}

// schemaSQL is idempotent; enrollments carry no ON DELETE action on purpose,
// the repository cascades explicitly in DeleteCourse.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    subject TEXT NOT NULL UNIQUE,
    role TEXT NOT NULL,
    avatar_key TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS courses (
    id TEXT PRIMARY KEY,
    subject TEXT NOT NULL,
    number INTEGER NOT NULL,
    title TEXT NOT NULL,
    term TEXT NOT NULL,
    instructor_id TEXT NOT NULL REFERENCES users (id)
);
CREATE TABLE IF NOT EXISTS enrollments (
    course_id TEXT NOT NULL REFERENCES courses (id),
    student_id TEXT NOT NULL REFERENCES users (id),
    PRIMARY KEY (course_id, student_id)
);
`

// NewPostgresRepository opens a Postgres-backed repository and applies the
// idempotent schema.
func NewPostgresRepository(dsn string, opts ...Option) (Repository, error) {
	cfg := newPostgresConfig(dsn, opts...)
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections > 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &postgresRepository{db: pool, cfg: cfg}, nil
}

func newPostgresRepositoryWithDB(db pgxPool) *postgresRepository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func (r *postgresRepository) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.db.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *postgresRepository) CreateUser(ctx context.Context, params CreateUserParams) (models.User, error) {
	subject := strings.TrimSpace(params.Subject)
	if subject == "" {
		return models.User{}, apierr.InvalidRequest("subject is required")
	}
	if _, err := models.ParseRole(string(params.Role)); err != nil {
		return models.User{}, apierr.InvalidRequest("role must be one of admin, instructor, student")
	}
	user := models.User{ID: generateID(), Subject: subject, Role: params.Role}
	_, err := r.db.Exec(ctx,
		`INSERT INTO users (id, subject, role, avatar_key) VALUES ($1, $2, $3, '')`,
		user.ID, user.Subject, string(user.Role))
	if isUniqueViolation(err) {
		return models.User{}, apierr.Conflict("subject %s is already registered", subject)
	}
	if err != nil {
		return models.User{}, apierr.Wrap(err, apierr.CodeInternal, "create user")
	}
	return user, nil
}

func (r *postgresRepository) scanUser(row pgx.Row, notFound *apierr.Error) (models.User, error) {
	var user models.User
	var role string
	err := row.Scan(&user.ID, &user.Subject, &role, &user.AvatarKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, notFound
	}
	if err != nil {
		return models.User{}, apierr.Wrap(err, apierr.CodeInternal, "read user")
	}
	user.Role = models.Role(role)
	return user, nil
}

func (r *postgresRepository) GetUser(ctx context.Context, id string) (models.User, error) {
	row := r.db.QueryRow(ctx, `SELECT id, subject, role, avatar_key FROM users WHERE id = $1`, id)
	return r.scanUser(row, apierr.NotFound("user %s not found", id))
}

func (r *postgresRepository) GetUserBySubject(ctx context.Context, subject string) (models.User, error) {
	row := r.db.QueryRow(ctx, `SELECT id, subject, role, avatar_key FROM users WHERE subject = $1`, subject)
	return r.scanUser(row, apierr.NotFound("no user with subject %s", subject))
}

func (r *postgresRepository) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := r.db.Query(ctx, `SELECT id, subject, role, avatar_key FROM users ORDER BY id`)
	if err != nil {
		return nil, apierr.Wrap(err, apierr.CodeInternal, "list users")
	}
	defer rows.Close()
	users := make([]models.User, 0)
	for rows.Next() {
		var user models.User
		var role string
		if err := rows.Scan(&user.ID, &user.Subject, &role, &user.AvatarKey); err != nil {
			return nil, apierr.Wrap(err, apierr.CodeInternal, "scan user")
		}
		user.Role = models.Role(role)
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, apierr.Wrap(err, apierr.CodeInternal, "list users")
	}
	return users, nil
}

func (r *postgresRepository) SetUserAvatar(ctx context.Context, id, avatarKey string) (models.User, error) {
	row := r.db.QueryRow(ctx,
		`UPDATE users SET avatar_key = $2 WHERE id = $1 RETURNING id, subject, role, avatar_key`,
		id, avatarKey)
	return r.scanUser(row, apierr.NotFound("user %s not found", id))
}

func (r *postgresRepository) requireInstructor(ctx context.Context, id string) error {
	var role string
	err := r.db.QueryRow(ctx, `SELECT role FROM users WHERE id = $1`, id).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && models.Role(role) != models.RoleInstructor) {
		return apierr.InvalidRequest("instructor %s does not reference an instructor", id)
	}
	if err != nil {
		return apierr.Wrap(err, apierr.CodeInternal, "check instructor")
	}
	return nil
}

func (r *postgresRepository) CreateCourse(ctx context.Context, params CreateCourseParams) (models.Course, error) {
	if err := r.requireInstructor(ctx, params.InstructorID); err != nil {
		return models.Course{}, err
	}
	course := models.Course{
		ID:           generateID(),
		Subject:      strings.TrimSpace(params.Subject),
		Number:       params.Number,
		Title:        strings.TrimSpace(params.Title),
		Term:         strings.TrimSpace(params.Term),
		InstructorID: params.InstructorID,
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO courses (id, subject, number, title, term, instructor_id) VALUES ($1, $2, $3, $4, $5, $6)`,
		course.ID, course.Subject, course.Number, course.Title, course.Term, course.InstructorID)
	if err != nil {
		return models.Course{}, apierr.Wrap(err, apierr.CodeInternal, "create course")
	}
	return course, nil
}

func (r *postgresRepository) scanCourse(row pgx.Row, notFound *apierr.Error) (models.Course, error) {
	var course models.Course
	err := row.Scan(&course.ID, &course.Subject, &course.Number, &course.Title, &course.Term, &course.InstructorID)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Course{}, notFound
	}
	if err != nil {
		return models.Course{}, apierr.Wrap(err, apierr.CodeInternal, "read course")
	}
	return course, nil
}

func (r *postgresRepository) GetCourse(ctx context.Context, id string) (models.Course, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, subject, number, title, term, instructor_id FROM courses WHERE id = $1`, id)
	return r.scanCourse(row, apierr.NotFound("course %s not found", id))
}

func (r *postgresRepository) collectCourses(rows pgx.Rows) ([]models.Course, error) {
	defer rows.Close()
	courses := make([]models.Course, 0)
	for rows.Next() {
		var course models.Course
		if err := rows.Scan(&course.ID, &course.Subject, &course.Number, &course.Title, &course.Term, &course.InstructorID); err != nil {
			return nil, apierr.Wrap(err, apierr.CodeInternal, "scan course")
		}
		courses = append(courses, course)
	}
	if err := rows.Err(); err != nil {
		return nil, apierr.Wrap(err, apierr.CodeInternal, "read courses")
	}
	return courses, nil
}

func (r *postgresRepository) ListCourses(ctx context.Context, offset, limit int) (CoursePage, error) {
	if offset < 0 || limit < 0 {
		return CoursePage{}, apierr.InvalidRequest("offset and limit must not be negative")
	}
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM courses`).Scan(&total); err != nil {
		return CoursePage{}, apierr.Wrap(err, apierr.CodeInternal, "count courses")
	}

	query := `SELECT id, subject, number, title, term, instructor_id FROM courses ORDER BY subject, number, id OFFSET $1`
	args := []any{offset}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return CoursePage{}, apierr.Wrap(err, apierr.CodeInternal, "list courses")
	}
	courses, err := r.collectCourses(rows)
	if err != nil {
		return CoursePage{}, err
	}
	return CoursePage{Courses: courses, Total: total}, nil
}

func (r *postgresRepository) UpdateCourse(ctx context.Context, id string, update CourseUpdate) (models.Course, error) {
	if update.InstructorID != nil {
		if err := r.requireInstructor(ctx, *update.InstructorID); err != nil {
			return models.Course{}, err
		}
	}

	sets := make([]string, 0, 5)
	args := []any{id}
	addSet := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if update.Subject != nil {
		addSet("subject", strings.TrimSpace(*update.Subject))
	}
	if update.Number != nil {
		addSet("number", *update.Number)
	}
	if update.Title != nil {
		addSet("title", strings.TrimSpace(*update.Title))
	}
	if update.Term != nil {
		addSet("term", strings.TrimSpace(*update.Term))
	}
	if update.InstructorID != nil {
		addSet("instructor_id", *update.InstructorID)
	}
	if len(sets) == 0 {
		return r.GetCourse(ctx, id)
	}

	query := fmt.Sprintf(
		`UPDATE courses SET %s WHERE id = $1 RETURNING id, subject, number, title, term, instructor_id`,
		strings.Join(sets, ", "))
	row := r.db.QueryRow(ctx, query, args...)
	return r.scanCourse(row, apierr.NotFound("course %s not found", id))
}

func (r *postgresRepository) DeleteCourse(ctx context.Context, id string) error {
	// Explicit cascade: the schema declares no ON DELETE action.
	if _, err := r.db.Exec(ctx, `DELETE FROM enrollments WHERE course_id = $1`, id); err != nil {
		return apierr.Wrap(err, apierr.CodeInternal, "delete enrollments")
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM courses WHERE id = $1`, id)
	if err != nil {
		return apierr.Wrap(err, apierr.CodeInternal, "delete course")
	}
	if tag.RowsAffected() == 0 {
		return apierr.NotFound("course %s not found", id)
	}
	return nil
}

func (r *postgresRepository) ListEnrollments(ctx context.Context, courseID string) ([]string, error) {
	if _, err := r.GetCourse(ctx, courseID); err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx,
		`SELECT student_id FROM enrollments WHERE course_id = $1 ORDER BY student_id`, courseID)
	if err != nil {
		return nil, apierr.Wrap(err, apierr.CodeInternal, "list enrollments")
	}
	defer rows.Close()
	students := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apierr.Wrap(err, apierr.CodeInternal, "scan enrollment")
		}
		students = append(students, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apierr.Wrap(err, apierr.CodeInternal, "list enrollments")
	}
	return students, nil
}

func (r *postgresRepository) CoursesForInstructor(ctx context.Context, instructorID string) ([]models.Course, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, subject, number, title, term, instructor_id FROM courses WHERE instructor_id = $1 ORDER BY subject, number, id`,
		instructorID)
	if err != nil {
		return nil, apierr.Wrap(err, apierr.CodeInternal, "list taught courses")
	}
	return r.collectCourses(rows)
}

func (r *postgresRepository) CoursesForStudent(ctx context.Context, studentID string) ([]models.Course, error) {
	rows, err := r.db.Query(ctx,
		`SELECT c.id, c.subject, c.number, c.title, c.term, c.instructor_id
		   FROM courses c JOIN enrollments e ON e.course_id = c.id
		  WHERE e.student_id = $1 ORDER BY c.subject, c.number, c.id`,
		studentID)
	if err != nil {
		return nil, apierr.Wrap(err, apierr.CodeInternal, "list enrolled courses")
	}
	return r.collectCourses(rows)
}

func (r *postgresRepository) UpdateEnrollment(ctx context.Context, courseID string, add, remove []string) error {
	if _, err := r.GetCourse(ctx, courseID); err != nil {
		return err
	}

	adding := make(map[string]struct{}, len(add))
	for _, id := range add {
		adding[id] = struct{}{}
	}
	for _, id := range remove {
		if _, both := adding[id]; both {
			return apierr.Conflict("student %s appears in both add and remove", id)
		}
	}

	referenced := append(append([]string(nil), add...), remove...)
	if len(referenced) > 0 {
		var students int
		err := r.db.QueryRow(ctx,
			`SELECT COUNT(DISTINCT id) FROM users WHERE id = ANY($1) AND role = 'student'`,
			referenced).Scan(&students)
		if err != nil {
			return apierr.Wrap(err, apierr.CodeInternal, "check students")
		}
		if students != len(uniqueIDs(referenced)) {
			return apierr.Conflict("enrollment update references an id that is not an existing student")
		}
	}

	for _, id := range add {
		if _, err := r.db.Exec(ctx,
			`INSERT INTO enrollments (course_id, student_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			courseID, id); err != nil {
			return apierr.Wrap(err, apierr.CodeInternal, "enroll student")
		}
	}
	if len(remove) > 0 {
		if _, err := r.db.Exec(ctx,
			`DELETE FROM enrollments WHERE course_id = $1 AND student_id = ANY($2)`,
			courseID, remove); err != nil {
			return apierr.Wrap(err, apierr.CodeInternal, "unenroll student")
		}
	}
	return nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	return unique
}

var _ Repository = (*postgresRepository)(nil)
