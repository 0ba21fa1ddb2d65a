package handler

import "swiftregistry/internal/swiftcode/models"

// SwiftCodeResponse is one projected record. Branches is always present and
// empty for branches and for country listings.
type SwiftCodeResponse struct {
	Address       string               `json:"address"`
	BankName      string               `json:"bankName"`
	CountryISO2   string               `json:"countryISO2"`
	CountryName   string               `json:"countryName"`
	IsHeadquarter bool                 `json:"isHeadquarter"`
	SwiftCode     string               `json:"swiftCode"`
	Branches      []*SwiftCodeResponse `json:"branches"`
}

// CountryResponse is the response of GET /v1/swift-codes/country/{iso2}.
type CountryResponse struct {
	CountryISO2 string               `json:"countryISO2"`
	CountryName string               `json:"countryName"`
	SwiftCodes  []*SwiftCodeResponse `json:"swiftCodes"`
}

// MessageResponse acknowledges a mutation.
type MessageResponse struct {
	Message   string `json:"message"`
	SwiftCode string `json:"swiftCode,omitempty"`
}

// ImportResponse is the response of POST /v1/swift-codes/import.
type ImportResponse struct {
	Ingested int `json:"ingested"`
	Skipped  int `json:"skipped"`
	Linked   int `json:"linked"`
}

// FromView converts a projection to its wire form.
func FromView(v *models.RecordView) *SwiftCodeResponse {
	resp := &SwiftCodeResponse{
		Address:       v.Address,
		BankName:      v.InstitutionName,
		CountryISO2:   v.CountryISO2,
		CountryName:   v.CountryName,
		IsHeadquarter: v.IsHeadquarters,
		SwiftCode:     v.Code,
		Branches:      make([]*SwiftCodeResponse, 0, len(v.Branches)),
	}
	for _, b := range v.Branches {
		resp.Branches = append(resp.Branches, FromView(b))
	}
	return resp
}

// FromCountryView converts a country listing to its wire form.
func FromCountryView(v *models.CountryView) *CountryResponse {
	resp := &CountryResponse{
		CountryISO2: v.CountryISO2,
		CountryName: v.CountryName,
		SwiftCodes:  make([]*SwiftCodeResponse, 0, len(v.Records)),
	}
	for _, r := range v.Records {
		resp.SwiftCodes = append(resp.SwiftCodes, FromView(r))
	}
	return resp
}
