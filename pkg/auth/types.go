package auth

// Role is the authorization level carried by a credential token.
type Role string

const (
	RoleSuperadmin   Role = "superadmin"
	RoleCompanyAdmin Role = "companyadmin"
	RoleUser         Role = "user"
)

// rank orders roles for AtLeast checks. Unknown roles rank below user.
func (r Role) rank() int {
	switch r {
	case RoleSuperadmin:
		return 3
	case RoleCompanyAdmin:
		return 2
	case RoleUser:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether r grants everything min does.
func (r Role) AtLeast(min Role) bool {
	return r.rank() >= min.rank()
}

// Principal is the authenticated entity making a request.
type Principal struct {
	ID        string
	CompanyID string
	Role      Role
	// TokenID is the tid of the credential the principal presented.
	TokenID string
}
