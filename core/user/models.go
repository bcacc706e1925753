package user

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/classboard/core"
)

// Roles
const (
	RoleAdmin     = "admin:"
	RoleTeacher   = "teacher:"
	RoleDeveloper = "developer:"
	RoleStudent   = "student:"
)

var (
	AllRoles = []string{RoleAdmin, RoleTeacher, RoleDeveloper, RoleStudent}

	Roles = []Role{
		{Name: "Student", Value: RoleStudent},
		{Name: "Teacher", Value: RoleTeacher},
		{Name: "Developer", Value: RoleDeveloper},
		{Name: "Admin", Value: RoleAdmin},
	}
)

type Role struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type User struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Username       string     `json:"username"`
	Email          string     `json:"email"`
	IsActive       bool       `json:"is_active"`
	Roles          []string   `json:"roles"`
	TokenHash      string     `json:"-"`
	TokenCreatedAt *time.Time `json:"token_created_at"` // UTC
	CreatedAt      time.Time  `json:"created_at"`       // UTC
	LastLogin      *time.Time `json:"last_login"`       // UTC
}

func (u *User) RoleStartsWith(prefix string) bool {
	for _, role := range u.Roles {
		if strings.HasPrefix(role, prefix) {
			return true
		}
	}
	return false
}

func (u *User) IsAdmin() bool {
	return u.RoleStartsWith(RoleAdmin)
}

func (u *User) IsTeacher() bool {
	return u.RoleStartsWith(RoleTeacher)
}

func (u *User) IsDeveloper() bool {
	return u.RoleStartsWith(RoleDeveloper)
}

func (u *User) HasToken() bool {
	return u.TokenHash != ""
}

// NewUser contains information needed to create a new User.
type NewUser struct {
	Name     string   `json:"name" validate:"required"`
	Username string   `json:"username" validate:"required,min=3,alphanum_"`
	Email    string   `json:"email" validate:"omitempty,email"`
	Roles    []string `json:"roles" validate:"omitempty,allroles"`
}

func (nu *NewUser) Validate(validate *validator.Validate) error {
	nu.Name = core.CleanString(nu.Name)
	nu.Username = core.CleanString(nu.Username, true /* lower */)
	nu.Email = core.CleanString(nu.Email, true /* lower */)
	return validate.Struct(nu)
}

// IssuedToken is returned once, when a user token is generated. Only its digest is stored.
type IssuedToken struct {
	Token     string    `json:"user_token"`
	CreatedAt time.Time `json:"token_created_at"`
}
