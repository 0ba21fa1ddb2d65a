package models

import "strings"

const (
	// HeadquartersSuffix marks the headquarters record of an institution.
	HeadquartersSuffix = "XXX"
	// PrefixLength covers institution, country and location.
	PrefixLength = 8
	// FullLength is the length of a code carrying a branch suffix.
	FullLength = 11
)

// ValidateFormat reports whether code is 8 or 11 characters of [A-Z0-9].
func ValidateFormat(code string) bool {
	if len(code) != PrefixLength && len(code) != FullLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

// IsHeadquartersCode is the only authority for the headquarters flag.
func IsHeadquartersCode(code string) bool {
	return strings.HasSuffix(code, HeadquartersSuffix)
}

// InstitutionPrefix returns the first 8 characters shared by a headquarters
// and its branches. ok is false for codes that are too short.
func InstitutionPrefix(code string) (string, bool) {
	if len(code) < PrefixLength {
		return "", false
	}
	return code[:PrefixLength], true
}

// HeadquartersCodeFor returns the candidate parent key of a branch code.
// ok is false for headquarters codes and codes shorter than 8 characters.
func HeadquartersCodeFor(code string) (string, bool) {
	if IsHeadquartersCode(code) {
		return "", false
	}
	prefix, ok := InstitutionPrefix(code)
	if !ok {
		return "", false
	}
	return prefix + HeadquartersSuffix, true
}
