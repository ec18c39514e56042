package models

// Role enum for service callers. Identity and token issuance live in
// the auth service; this service only checks the role claim carried by
// incoming tokens.
type Role string

const (
	RoleAdmin         Role = "admin"
	RoleLabTechnician Role = "lab-technician"
	RoleClinician     Role = "clinician"
)
