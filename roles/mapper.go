// Package roles translates external role strings into the product's own
// role vocabulary.
package roles

import "strings"

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Mapper applies a configured table of external=>internal role rules.
// The table format is "external=>internal;external=>internal", e.g.
// "dataconsumer=>admin;consumer=>user".
type Mapper struct {
	table    map[string]string
	unmapped []string
}

// NewMapper parses the rule table. Malformed rules are skipped. The unmapped
// set is the full administrative role set returned for identities that are
// never enumerable externally (the space owner).
func NewMapper(table string, unmapped []string) *Mapper {
	rules := make(map[string]string)
	for _, rule := range strings.Split(table, ";") {
		parts := strings.SplitN(rule, "=>", 2)
		if len(parts) != 2 {
			continue
		}
		external := strings.TrimSpace(parts[0])
		internal := strings.TrimSpace(parts[1])
		if external == "" || internal == "" {
			continue
		}
		rules[external] = internal
	}
	return &Mapper{table: rules, unmapped: unmapped}
}

// Map translates raw external roles through the table. Unmatched roles are
// dropped and the result is de-duplicated; order is not significant.
func (m *Mapper) Map(rawRoles []string) []string {
	seen := make(map[string]struct{})
	mapped := make([]string, 0, len(rawRoles))
	for _, raw := range rawRoles {
		internal, ok := m.table[raw]
		if !ok {
			continue
		}
		if _, dup := seen[internal]; dup {
			continue
		}
		seen[internal] = struct{}{}
		mapped = append(mapped, internal)
	}
	return mapped
}

// Unmapped returns the full administrative role set without consulting any
// external data.
func (m *Mapper) Unmapped() []string {
	out := make([]string, len(m.unmapped))
	copy(out, m.unmapped)
	return out
}

// Dedupe merges role or scope lists into a single duplicate-free list.
func Dedupe(lists ...[]string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, list := range lists {
		for _, v := range list {
			if v == "" {
				continue
			}
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}
