package mcp

// authRequirement states which authentication state a tool is exposed in.
type authRequirement int

const (
	anyState   authRequirement = iota
	unauthOnly                 // e.g. authenticate, validate_token
	authOnly                   // everything touching journal data
)

// enabledTools is the availability gate: a pure function from the catalog
// and the current authentication state to the exposed subset. It is
// recomputed on every tools/list and after every claim or unclaim, instead
// of flipping mutable flags on registered tools.
func enabledTools(catalog []tool, authenticated bool) []tool {
	enabled := make([]tool, 0, len(catalog))
	for _, t := range catalog {
		switch t.auth {
		case unauthOnly:
			if authenticated {
				continue
			}
		case authOnly:
			if !authenticated {
				continue
			}
		}
		enabled = append(enabled, t)
	}
	return enabled
}
