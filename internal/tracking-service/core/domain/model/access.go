package model

type Access int

const (
	// AccessRead covers status, location and ETA reads.
	AccessRead Access = iota
	// AccessDrive covers actions taken by the assigned driver.
	AccessDrive
	// AccessManage covers dispatcher-only actions.
	AccessManage
)

// Allows reports whether the actor may perform an access of the given kind on d.
func (a Actor) Allows(access Access, d *Delivery) bool {
	if a.Role.IsStaff() {
		return true
	}
	switch access {
	case AccessRead:
		if a.Role == RoleDriver {
			return d.HasDriver() && d.DriverID == a.ID
		}
		if a.Role == RoleCustomer {
			return d.CustomerID != "" && d.CustomerID == a.ID
		}
	case AccessDrive:
		return a.Role == RoleDriver && d.HasDriver() && d.DriverID == a.ID
	}
	return false
}
