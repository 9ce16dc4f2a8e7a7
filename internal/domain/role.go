package domain

import "fmt"

// Role es el rol de quien invoca una operación.
type Role int

const (
	RolePublic Role = iota
	RoleOperator
	RoleAdmin
)

func (r Role) String() string {
	switch r {
	case RoleOperator:
		return "operator"
	case RoleAdmin:
		return "admin"
	default:
		return "public"
	}
}

// RoleOf resuelve el rol de caller según los ids configurados.
func RoleOf(caller, admin, operator string) Role {
	switch {
	case caller == "":
		return RolePublic
	case caller == admin:
		return RoleAdmin
	case caller == operator:
		return RoleOperator
	}
	return RolePublic
}

// Authorize devuelve ErrUnauthorized si role no está entre los permitidos.
func Authorize(role Role, allowed ...Role) error {
	for _, a := range allowed {
		if role == a {
			return nil
		}
	}
	return fmt.Errorf("%w: role %s not allowed", ErrUnauthorized, role)
}
