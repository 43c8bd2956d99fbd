// Package compat routes every resolver request shape through one dispatcher
// and keeps the deprecated response bodies stable while the unified resolver
// evolves underneath them.
package compat

// Variant is the closed set of request shapes the API accepts.
type Variant int

const (
	UnifiedTree Variant = iota
	UnifiedEvents
	LegacyChildren
	LegacyAncestry
	LegacyCombined
	LegacyAlerts
	Entity
)

var variantNames = [...]string{
	UnifiedTree:    "tree",
	UnifiedEvents:  "events",
	LegacyChildren: "legacy_children",
	LegacyAncestry: "legacy_ancestry",
	LegacyCombined: "legacy_combined",
	LegacyAlerts:   "legacy_alerts",
	Entity:         "entity",
}

func (v Variant) String() string {
	if v < 0 || int(v) >= len(variantNames) {
		return "unknown"
	}
	return variantNames[v]
}

// Deprecated reports whether the variant only exists for older clients.
func (v Variant) Deprecated() bool {
	switch v {
	case LegacyChildren, LegacyAncestry, LegacyCombined, LegacyAlerts:
		return true
	}
	return false
}
