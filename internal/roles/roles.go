// Package roles holds the capability implication table for user roles.
package roles

// Role is a user role as carried in token claims.
type Role string

const (
	Admin      Role = "admin"      // manages users, implies every other role
	Editor     Role = "editor"     // publishes articles
	Subscriber Role = "subscriber" // reads and follows categories
)

// Default is granted on registration.
const Default = Subscriber

// implies lists, for every role, the roles it grants besides itself.
var implies = map[Role][]Role{
	Admin:      {Editor, Subscriber},
	Editor:     {Subscriber},
	Subscriber: {},
}

// Known reports whether r is one of the defined roles.
func Known(r Role) bool {
	_, ok := implies[r]
	return ok
}

// Grants reports whether a holder of role r also holds required.
func Grants(r, required Role) bool {
	if r == required {
		return Known(r)
	}
	for _, implied := range implies[r] {
		if implied == required {
			return true
		}
	}
	return false
}

// Implies reports whether any of the held roles grants required.
func Implies(held []string, required Role) bool {
	for _, h := range held {
		if Grants(Role(h), required) {
			return true
		}
	}
	return false
}

