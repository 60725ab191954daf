package models

import (
	"fmt"
	"strings"
)

// Role classifies an account. The set is closed: every stored user carries
// exactly one of the values below, and unknown strings are rejected at the
// storage boundary rather than compared ad hoc in handlers.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleInstructor Role = "instructor"
	RoleStudent    Role = "student"
)

// ParseRole normalises and validates a role string.
func ParseRole(value string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(value))) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleInstructor:
		return RoleInstructor, nil
	case RoleStudent:
		return RoleStudent, nil
	default:
		return "", fmt.Errorf("unknown role %q", value)
	}
}

// String implements fmt.Stringer.
func (r Role) String() string {
	return string(r)
}

// User is an account provisioned out of band by the identity provider.
// Subject is the provider's stable identifier and the join key between
// verified tokens and stored records; it is unique across users. Role is
// fixed at creation and there is no delete path.
type User struct {
	ID        string `json:"id"`
	Subject   string `json:"sub"`
	Role      Role   `json:"role"`
	AvatarKey string `json:"avatarKey,omitempty"`
}

// IsAdmin reports whether the user holds the admin role.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// HasAvatar reports whether an avatar object has been stored for the user.
func (u User) HasAvatar() bool {
	return strings.TrimSpace(u.AvatarKey) != ""
}

// Course is a single offering of a subject in a term. InstructorID always
// references a user whose role is instructor.
type Course struct {
	ID           string `json:"id"`
	Subject      string `json:"subject"`
	Number       int    `json:"number"`
	Title        string `json:"title"`
	Term         string `json:"term"`
	InstructorID string `json:"instructorId"`
}

// Enrollment links one student to one course. Records exist only while the
// student is enrolled; they are created and removed through the batched
// add/remove operation on a course.
type Enrollment struct {
	CourseID  string `json:"courseId"`
	StudentID string `json:"studentId"`
}
