package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	cases := []struct {
		input string
		want  Role
	}{
		{"admin", RoleAdmin},
		{"Instructor", RoleInstructor},
		{"  student  ", RoleStudent},
		{"ADMIN", RoleAdmin},
	}
	for _, tc := range cases {
		role, err := ParseRole(tc.input)
		require.NoError(t, err, "input %q", tc.input)
		assert.Equal(t, tc.want, role)
	}
}

func TestParseRoleRejectsUnknown(t *testing.T) {
	for _, input := range []string{"", "root", "teacher", "admins"} {
		_, err := ParseRole(input)
		assert.Error(t, err, "input %q", input)
	}
}

func TestUserHelpers(t *testing.T) {
	admin := User{ID: "u1", Subject: "auth0|1", Role: RoleAdmin}
	assert.True(t, admin.IsAdmin())
	assert.False(t, admin.HasAvatar())

	student := User{ID: "u2", Subject: "auth0|2", Role: RoleStudent, AvatarKey: "avatars/u2"}
	assert.False(t, student.IsAdmin())
	assert.True(t, student.HasAvatar())
}
