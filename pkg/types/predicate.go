package types

import "strings"

// Predicate class sets. Predicates are normalized to UPPER_SNAKE tokens
// before lookup, so membership checks are exact string matches.

// PermanentPredicates never decay; their facts keep weight 1.0 forever.
var PermanentPredicates = map[string]bool{
	"NAME":        true,
	"BIRTHDAY":    true,
	"BIRTHPLACE":  true,
	"EMAIL":       true,
	"PHONE":       true,
	"FAMILY":      true,
	"SPOUSE":      true,
	"CHILD":       true,
	"NATIONALITY": true,
	"GENDER":      true,
}

// EphemeralPredicates decay on a short clock (hours, not days): transient
// states that are stale almost immediately.
var EphemeralPredicates = map[string]bool{
	"WEARING":      true,
	"FEELING":      true,
	"EATING":       true,
	"DRINKING":     true,
	"WATCHING":     true,
	"LISTENING_TO": true,
	"LOCATION_NOW": true,
	"DOING":        true,
	"MOOD":         true,
}

// MultiValuedPredicates permit multiple simultaneously valid facts per
// subject. Only these predicates may be resolved with the keep_both strategy.
var MultiValuedPredicates = map[string]bool{
	"SKILL":     true,
	"HOBBY":     true,
	"INTEREST":  true,
	"LIKES":     true,
	"DISLIKES":  true,
	"GOAL":      true,
	"LANGUAGE":  true,
	"ALLERGY":   true,
	"OWNS":      true,
}

// SafetyPredicateFragments are substrings that mark a predicate as
// safety-related. Operations whose predicate contains any fragment are
// auto-escalated to the safety importance floor during validation.
var SafetyPredicateFragments = []string{
	"ALLERG",
	"MEDICAL",
	"MEDICATION",
	"CONDITION",
	"EMERGENCY",
	"BLOOD_TYPE",
}

// NormalizePredicate converts a raw predicate string to the canonical
// UPPER_SNAKE token form: trimmed, uppercased, spaces and dashes collapsed
// to underscores.
func NormalizePredicate(p string) string {
	p = strings.ToUpper(strings.TrimSpace(p))
	p = strings.ReplaceAll(p, " ", "_")
	p = strings.ReplaceAll(p, "-", "_")
	for strings.Contains(p, "__") {
		p = strings.ReplaceAll(p, "__", "_")
	}
	return p
}

// IsPermanentPredicate reports whether the (normalized) predicate never decays.
func IsPermanentPredicate(p string) bool {
	return PermanentPredicates[p]
}

// IsEphemeralPredicate reports whether the (normalized) predicate decays on
// the short clock.
func IsEphemeralPredicate(p string) bool {
	return EphemeralPredicates[p]
}

// IsMultiValuedPredicate reports whether multiple valid facts are permitted
// for the (normalized) predicate.
func IsMultiValuedPredicate(p string) bool {
	return MultiValuedPredicates[p]
}

// IsSafetyPredicate reports whether the (normalized) predicate contains a
// safety-related fragment.
func IsSafetyPredicate(p string) bool {
	for _, frag := range SafetyPredicateFragments {
		if strings.Contains(p, frag) {
			return true
		}
	}
	return false
}
