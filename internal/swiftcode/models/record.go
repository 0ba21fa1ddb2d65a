package models

import "strings"

// Record is a stored SWIFT code. Code is the primary key and never changes;
// only HeadquartersCode is mutated after creation.
type Record struct {
	Code            string
	InstitutionName string
	Address         string
	CountryISO2     string
	CountryName     string
	IsHeadquarters  bool
	// HeadquartersCode is the parent foreign key. Nil for headquarters and for
	// branches whose headquarters is not registered.
	HeadquartersCode *string
}

// NewRecord builds a record with normalized country fields and the
// headquarters flag derived from the code.
func NewRecord(code, institutionName, address, countryISO2, countryName string) *Record {
	return &Record{
		Code:            code,
		InstitutionName: strings.TrimSpace(institutionName),
		Address:         strings.TrimSpace(address),
		CountryISO2:     NormalizeCountry(countryISO2),
		CountryName:     NormalizeCountry(countryName),
		IsHeadquarters:  IsHeadquartersCode(code),
	}
}

// NormalizeCountry trims and uppercases a country code or name.
func NormalizeCountry(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// SetHeadquarters links the record to hq. Self links and links from a
// headquarters are ignored.
func (r *Record) SetHeadquarters(hqCode string) bool {
	if r.IsHeadquarters || hqCode == r.Code {
		return false
	}
	code := hqCode
	r.HeadquartersCode = &code
	return true
}

// ClearHeadquarters removes the parent link.
func (r *Record) ClearHeadquarters() {
	r.HeadquartersCode = nil
}

// ParentCode returns the parent key or "" when unlinked.
func (r *Record) ParentCode() string {
	if r.HeadquartersCode == nil {
		return ""
	}
	return *r.HeadquartersCode
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.HeadquartersCode != nil {
		hq := *r.HeadquartersCode
		c.HeadquartersCode = &hq
	}
	return &c
}

// LinkUpdate sets Code's parent to HeadquartersCode.
type LinkUpdate struct {
	Code             string
	HeadquartersCode string
}
