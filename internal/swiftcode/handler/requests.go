package handler

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"swiftregistry/internal/swiftcode/models"
	dErrors "swiftregistry/pkg/domain-errors"
)

// CreateRequest is the HTTP request body for POST /v1/swift-codes.
// IsHeadquarter is accepted for compatibility and ignored; the flag is
// derived from the code.
type CreateRequest struct {
	SwiftCode     string `json:"swiftCode" validate:"required,swiftcode"`
	BankName      string `json:"bankName" validate:"required"`
	Address       string `json:"address" validate:"required"`
	CountryISO2   string `json:"countryISO2" validate:"required,len=2"`
	CountryName   string `json:"countryName" validate:"required"`
	IsHeadquarter *bool  `json:"isHeadquarter,omitempty"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("swiftcode", func(fl validator.FieldLevel) bool {
		return models.ValidateFormat(fl.Field().String())
	})
	return v
}

// fieldMessages mirrors the messages API clients already rely on.
var fieldMessages = map[string]string{
	"swiftCode.required":   "SWIFT code cannot be blank.",
	"swiftCode.swiftcode":  "SWIFT code must be 8 or 11 alphanumeric characters.",
	"bankName.required":    "Bank name cannot be blank.",
	"address.required":     "Address cannot be blank.",
	"countryISO2.required": "Country ISO2 code cannot be blank.",
	"countryISO2.len":      "Country ISO2 code must be exactly 2 characters.",
	"countryName.required": "Country name cannot be blank.",
}

// Validate trims every field and checks it. Implements httputil.Validatable.
func (r *CreateRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.SwiftCode = strings.TrimSpace(r.SwiftCode)
	r.BankName = strings.TrimSpace(r.BankName)
	r.Address = strings.TrimSpace(r.Address)
	r.CountryISO2 = strings.TrimSpace(r.CountryISO2)
	r.CountryName = strings.TrimSpace(r.CountryName)

	err := validate.Struct(r)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return dErrors.Wrap(err, dErrors.CodeInternal, "request validation failed")
	}

	details := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msg, ok := fieldMessages[fe.Field()+"."+fe.Tag()]
		if !ok {
			msg = fmt.Sprintf("failed on %q", fe.Tag())
		}
		details = append(details, fmt.Sprintf("Field '%s': %s", fe.Field(), msg))
	}
	return dErrors.WithDetails(dErrors.CodeValidation, "Validation Failed", details)
}

// ToModel converts the request to the service input.
func (r *CreateRequest) ToModel() models.CreateRequest {
	return models.CreateRequest{
		Code:            r.SwiftCode,
		InstitutionName: r.BankName,
		Address:         r.Address,
		CountryISO2:     r.CountryISO2,
		CountryName:     r.CountryName,
	}
}
