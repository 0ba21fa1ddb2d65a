package models

// RecordView is a projected record. Branches is never nil.
type RecordView struct {
	Code            string
	InstitutionName string
	Address         string
	CountryISO2     string
	CountryName     string
	IsHeadquarters  bool
	Branches        []*RecordView
}

// CountryView groups every record registered for one country.
type CountryView struct {
	CountryISO2 string
	CountryName string
	Records     []*RecordView
}

// CreateRequest carries the caller-supplied fields of a new record. Any
// headquarters flag sent by a client is ignored.
type CreateRequest struct {
	Code            string
	InstitutionName string
	Address         string
	CountryISO2     string
	CountryName     string
}
