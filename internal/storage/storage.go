package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"tarpaulin/internal/apierr"
	"tarpaulin/internal/models"
)

type dataset struct {
	Users       map[string]models.User         `json:"users"`
	Courses     map[string]models.Course       `json:"courses"`
	Enrollments map[string]map[string]struct{} `json:"enrollments"`
}

func newDataset() dataset {
	return dataset{
		Users:       make(map[string]models.User),
		Courses:     make(map[string]models.Course),
		Enrollments: make(map[string]map[string]struct{}),
	}
}

// Storage is the in-memory datastore. When constructed with a file path it
// persists the full dataset to disk after every mutation; with an empty path
// it is purely in-memory, which is what the tests use.
type Storage struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error
}

// NewStorage opens the in-memory store, loading existing data from path when
// one is given.
func NewStorage(path string, opts ...Option) (*Storage, error) {
	store := &Storage{filePath: strings.TrimSpace(path), data: newDataset()}
	for _, opt := range opts {
		if opt != nil {
			opt.applyMemory(store)
		}
	}
	if store.filePath != "" {
		if err := store.load(); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// NewMemoryRepository returns the in-memory store as a Repository.
func NewMemoryRepository(path string, opts ...Option) (Repository, error) {
	return NewStorage(path, opts...)
}

func (s *Storage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	file, err := os.Open(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		s.data = newDataset()
		return nil
	} else if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(&s.data); err != nil {
		if errors.Is(err, io.EOF) {
			s.data = newDataset()
			return nil
		}
		return fmt.Errorf("decode store file: %w", err)
	}
	if s.data.Users == nil {
		s.data.Users = make(map[string]models.User)
	}
	if s.data.Courses == nil {
		s.data.Courses = make(map[string]models.Course)
	}
	if s.data.Enrollments == nil {
		s.data.Enrollments = make(map[string]map[string]struct{})
	}
	return nil
}

func (s *Storage) persist() error {
	if s.persistOverride != nil {
		return s.persistOverride(s.data)
	}
	if s.filePath == "" {
		return nil
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "store-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(s.data); err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush store file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}
	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	success = true
	return nil
}

func generateID() string {
	return uuid.NewString()
}

// Ping reports the store as reachable; the in-memory store always is.
func (s *Storage) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close flushes nothing; the store persists on every mutation.
func (s *Storage) Close(ctx context.Context) error {
	return nil
}

func (s *Storage) CreateUser(ctx context.Context, params CreateUserParams) (models.User, error) {
	subject := strings.TrimSpace(params.Subject)
	if subject == "" {
		return models.User{}, apierr.InvalidRequest("subject is required")
	}
	if _, err := models.ParseRole(string(params.Role)); err != nil {
		return models.User{}, apierr.InvalidRequest("role must be one of admin, instructor, student")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.data.Users {
		if existing.Subject == subject {
			return models.User{}, apierr.Conflict("subject %s is already registered", subject)
		}
	}
	user := models.User{ID: generateID(), Subject: subject, Role: params.Role}
	s.data.Users[user.ID] = user
	if err := s.persist(); err != nil {
		delete(s.data.Users, user.ID)
		return models.User{}, err
	}
	return user, nil
}

func (s *Storage) GetUser(ctx context.Context, id string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.data.Users[id]
	if !ok {
		return models.User{}, apierr.NotFound("user %s not found", id)
	}
	return user, nil
}

func (s *Storage) GetUserBySubject(ctx context.Context, subject string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.data.Users {
		if user.Subject == subject {
			return user, nil
		}
	}
	return models.User{}, apierr.NotFound("no user with subject %s", subject)
}

func (s *Storage) ListUsers(ctx context.Context) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]models.User, 0, len(s.data.Users))
	for _, user := range s.data.Users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (s *Storage) SetUserAvatar(ctx context.Context, id, avatarKey string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.data.Users[id]
	if !ok {
		return models.User{}, apierr.NotFound("user %s not found", id)
	}
	previous := user.AvatarKey
	user.AvatarKey = avatarKey
	s.data.Users[id] = user
	if err := s.persist(); err != nil {
		user.AvatarKey = previous
		s.data.Users[id] = user
		return models.User{}, err
	}
	return user, nil
}

func (s *Storage) requireInstructorLocked(id string) error {
	instructor, ok := s.data.Users[id]
	if !ok || instructor.Role != models.RoleInstructor {
		return apierr.InvalidRequest("instructor %s does not reference an instructor", id)
	}
	return nil
}

func (s *Storage) CreateCourse(ctx context.Context, params CreateCourseParams) (models.Course, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireInstructorLocked(params.InstructorID); err != nil {
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
	s.data.Courses[course.ID] = course
	if err := s.persist(); err != nil {
		delete(s.data.Courses, course.ID)
		return models.Course{}, err
	}
	return course, nil
}

func (s *Storage) GetCourse(ctx context.Context, id string) (models.Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	course, ok := s.data.Courses[id]
	if !ok {
		return models.Course{}, apierr.NotFound("course %s not found", id)
	}
	return course, nil
}

// Collators are reusable but not goroutine-safe: CompareString works through
// the collator's internal buffer, so sorts are serialised.
var (
	courseCollatorMu sync.Mutex
	courseCollator   = collate.New(language.Und)
)

// sortCourses orders courses by subject using linguistic collation so that
// pages are stable regardless of map iteration order, with number and id as
// tiebreaks.
func sortCourses(courses []models.Course) {
	courseCollatorMu.Lock()
	defer courseCollatorMu.Unlock()
	sort.Slice(courses, func(i, j int) bool {
		if cmp := courseCollator.CompareString(courses[i].Subject, courses[j].Subject); cmp != 0 {
			return cmp < 0
		}
		if courses[i].Number != courses[j].Number {
			return courses[i].Number < courses[j].Number
		}
		return courses[i].ID < courses[j].ID
	})
}

func (s *Storage) ListCourses(ctx context.Context, offset, limit int) (CoursePage, error) {
	if offset < 0 || limit < 0 {
		return CoursePage{}, apierr.InvalidRequest("offset and limit must not be negative")
	}

	s.mu.RLock()
	courses := make([]models.Course, 0, len(s.data.Courses))
	for _, course := range s.data.Courses {
		courses = append(courses, course)
	}
	s.mu.RUnlock()

	sortCourses(courses)
	total := len(courses)
	if offset >= total {
		return CoursePage{Courses: []models.Course{}, Total: total}, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return CoursePage{Courses: courses[offset:end], Total: total}, nil
}

func (s *Storage) UpdateCourse(ctx context.Context, id string, update CourseUpdate) (models.Course, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	course, ok := s.data.Courses[id]
	if !ok {
		return models.Course{}, apierr.NotFound("course %s not found", id)
	}
	previous := course
	if update.Subject != nil {
		course.Subject = strings.TrimSpace(*update.Subject)
	}
	if update.Number != nil {
		course.Number = *update.Number
	}
	if update.Title != nil {
		course.Title = strings.TrimSpace(*update.Title)
	}
	if update.Term != nil {
		course.Term = strings.TrimSpace(*update.Term)
	}
	if update.InstructorID != nil {
		if err := s.requireInstructorLocked(*update.InstructorID); err != nil {
			return models.Course{}, err
		}
		course.InstructorID = *update.InstructorID
	}
	s.data.Courses[id] = course
	if err := s.persist(); err != nil {
		s.data.Courses[id] = previous
		return models.Course{}, err
	}
	return course, nil
}

// DeleteCourse removes the course and, explicitly, every enrollment record
// referencing it. The dataset has no automatic cascade.
func (s *Storage) DeleteCourse(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	course, ok := s.data.Courses[id]
	if !ok {
		return apierr.NotFound("course %s not found", id)
	}
	enrolled := s.data.Enrollments[id]
	delete(s.data.Courses, id)
	delete(s.data.Enrollments, id)
	if err := s.persist(); err != nil {
		s.data.Courses[id] = course
		if enrolled != nil {
			s.data.Enrollments[id] = enrolled
		}
		return err
	}
	return nil
}

func (s *Storage) ListEnrollments(ctx context.Context, courseID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.data.Courses[courseID]; !ok {
		return nil, apierr.NotFound("course %s not found", courseID)
	}
	students := make([]string, 0, len(s.data.Enrollments[courseID]))
	for studentID := range s.data.Enrollments[courseID] {
		students = append(students, studentID)
	}
	sort.Strings(students)
	return students, nil
}

func (s *Storage) CoursesForInstructor(ctx context.Context, instructorID string) ([]models.Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	courses := make([]models.Course, 0)
	for _, course := range s.data.Courses {
		if course.InstructorID == instructorID {
			courses = append(courses, course)
		}
	}
	sortCourses(courses)
	return courses, nil
}

func (s *Storage) CoursesForStudent(ctx context.Context, studentID string) ([]models.Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	courses := make([]models.Course, 0)
	for courseID, students := range s.data.Enrollments {
		if _, ok := students[studentID]; !ok {
			continue
		}
		if course, exists := s.data.Courses[courseID]; exists {
			courses = append(courses, course)
		}
	}
	sortCourses(courses)
	return courses, nil
}

// UpdateEnrollment applies the batched add/remove lists. The whole request
// is validated first: an id appearing in both lists, or any id that is not
// an existing student, fails with a conflict and writes nothing. Adding an
// already-enrolled student and removing a non-enrolled one are no-ops.
func (s *Storage) UpdateEnrollment(ctx context.Context, courseID string, add, remove []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.Courses[courseID]; !ok {
		return apierr.NotFound("course %s not found", courseID)
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
	for _, id := range append(append([]string(nil), add...), remove...) {
		student, ok := s.data.Users[id]
		if !ok || student.Role != models.RoleStudent {
			return apierr.Conflict("id %s does not reference an existing student", id)
		}
	}

	previous := s.data.Enrollments[courseID]
	next := make(map[string]struct{}, len(previous)+len(add))
	for id := range previous {
		next[id] = struct{}{}
	}
	for _, id := range add {
		next[id] = struct{}{}
	}
	for _, id := range remove {
		delete(next, id)
	}
	s.data.Enrollments[courseID] = next
	if err := s.persist(); err != nil {
		if previous == nil {
			delete(s.data.Enrollments, courseID)
		} else {
			s.data.Enrollments[courseID] = previous
		}
		return err
	}
	return nil
}

var _ Repository = (*Storage)(nil)
