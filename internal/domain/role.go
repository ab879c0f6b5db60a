package domain

// Role is the privilege tier of a user. The order is total:
// ADMIN > MAINTAINER > REPORTER.
type Role string

const (
	RoleAdmin      Role = "ADMIN"
	RoleMaintainer Role = "MAINTAINER"
	RoleReporter   Role = "REPORTER"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleMaintainer, RoleReporter:
		return true
	}
	return false
}

func (r Role) IsAdmin() bool {
	return r == RoleAdmin
}

// IsMaintainer is true for admins too; maintainer capability is cumulative.
func (r Role) IsMaintainer() bool {
	return r == RoleMaintainer || r == RoleAdmin
}

// IsReporter is an exact match. The reporter tier is the floor and is not
// inherited upward.
func (r Role) IsReporter() bool {
	return r == RoleReporter
}
