package config

import "strings"

type IdentityConfig interface {
	GetRoleMappings() string
	GetDefaultRoles() []string
	GetDefaultScopes() []string
	GetUnmappedRoles() []string
}

type Identity struct{}

var _ IdentityConfig = Identity{}

// GetRoleMappings returns the external=>internal role rule table in the
// "producer=>admin;consumer=>user" format.
func (Identity) GetRoleMappings() string {
	return GetEnv("ROLE_MAPPINGS", "producer=>admin;consumer=>user")
}

func (Identity) GetDefaultRoles() []string {
	return splitCSV(GetEnv("DEFAULT_ROLES", "user"))
}

func (Identity) GetDefaultScopes() []string {
	return splitCSV(GetEnv("DEFAULT_SCOPES", ""))
}

// GetUnmappedRoles is the role set granted when external roles cannot be
// enumerated, e.g. for a cloud space owner.
func (Identity) GetUnmappedRoles() []string {
	return splitCSV(GetEnv("UNMAPPED_ROLES", "user"))
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
