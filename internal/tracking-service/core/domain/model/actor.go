package model

type Role string

const (
	RoleDriver     Role = "DRIVER"
	RoleDispatcher Role = "DISPATCHER"
	RoleAdmin      Role = "ADMIN"
	RoleCustomer   Role = "CUSTOMER"
	RoleSystem     Role = "SYSTEM"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleDriver, RoleDispatcher, RoleAdmin, RoleCustomer, RoleSystem:
		return true
	}
	return false
}

// IsStaff covers dispatchers, admins and internal callers.
func (r Role) IsStaff() bool {
	return r == RoleDispatcher || r == RoleAdmin || r == RoleSystem
}

type Actor struct {
	ID   string
	Role Role
}

var SystemActor = Actor{ID: "system", Role: RoleSystem}
