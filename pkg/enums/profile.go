package enums

import "fmt"

// ProfileRole gates privileged marketplace behavior.
type ProfileRole string

const (
	ProfileRoleUser  ProfileRole = "user"
	ProfileRoleAdmin ProfileRole = "admin"
)

var validProfileRoles = []ProfileRole{
	ProfileRoleUser,
	ProfileRoleAdmin,
}

func (r ProfileRole) IsValid() bool {
	for _, candidate := range validProfileRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

func ParseProfileRole(value string) (ProfileRole, error) {
	for _, candidate := range validProfileRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid profile role %q", value)
}
