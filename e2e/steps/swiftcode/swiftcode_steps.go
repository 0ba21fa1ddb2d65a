package swiftcode

import (
	"context"
	"fmt"
	"strings"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body interface{}) error
	GET(path string, headers map[string]string) error
	DELETE(path string) error
	GetLastStatus() int
	GetResponseField(field string) (interface{}, error)
}

const basePath = "/v1/swift-codes"

// RegisterSteps registers SWIFT registry step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &swiftSteps{tc: tc}

	// Setup and actions
	ctx.Step(`^SWIFT code "([^"]*)" does not exist$`, steps.ensureAbsent)
	ctx.Step(`^I create SWIFT code "([^"]*)" for bank "([^"]*)" in "([^"]*)" "([^"]*)"$`, steps.create)
	ctx.Step(`^I look up SWIFT code "([^"]*)"$`, steps.lookup)
	ctx.Step(`^I delete SWIFT code "([^"]*)"$`, steps.delete)
	ctx.Step(`^I list SWIFT codes for country "([^"]*)"$`, steps.listCountry)

	// Assertions
	ctx.Step(`^the response should list (\d+) branch(?:es)?$`, steps.shouldListBranches)
	ctx.Step(`^the branches should include "([^"]*)"$`, steps.branchesShouldInclude)
	ctx.Step(`^the country listing should include "([^"]*)"$`, steps.countryListingShouldInclude)
	ctx.Step(`^the country listing should not include "([^"]*)"$`, steps.countryListingShouldNotInclude)
}

type swiftSteps struct {
	tc TestContext
}

func (s *swiftSteps) ensureAbsent(ctx context.Context, code string) error {
	if err := s.tc.DELETE(basePath + "/" + code); err != nil {
		return err
	}
	switch s.tc.GetLastStatus() {
	case 200, 404:
		return nil
	default:
		return fmt.Errorf("cleanup of %s failed with status %d", code, s.tc.GetLastStatus())
	}
}

func (s *swiftSteps) create(ctx context.Context, code, bank, iso2, country string) error {
	body := map[string]interface{}{
		"swiftCode":     code,
		"bankName":      bank,
		"address":       "1 TEST STREET",
		"countryISO2":   iso2,
		"countryName":   country,
		"isHeadquarter": strings.HasSuffix(code, "XXX"),
	}
	return s.tc.POST(basePath, body)
}

func (s *swiftSteps) lookup(ctx context.Context, code string) error {
	return s.tc.GET(basePath+"/"+code, nil)
}

func (s *swiftSteps) delete(ctx context.Context, code string) error {
	return s.tc.DELETE(basePath + "/" + code)
}

func (s *swiftSteps) listCountry(ctx context.Context, iso2 string) error {
	return s.tc.GET(basePath+"/country/"+iso2, nil)
}

func (s *swiftSteps) branches() ([]map[string]interface{}, error) {
	return s.objectList("branches")
}

func (s *swiftSteps) objectList(field string) ([]map[string]interface{}, error) {
	raw, err := s.tc.GetResponseField(field)
	if err != nil {
		return nil, err
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("field %s is not a list: %v", field, raw)
	}
	out := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("field %s holds a non-object entry: %v", field, item)
		}
		out = append(out, obj)
	}
	return out, nil
}

func (s *swiftSteps) shouldListBranches(ctx context.Context, count int) error {
	branches, err := s.branches()
	if err != nil {
		return err
	}
	if len(branches) != count {
		return fmt.Errorf("expected %d branches, got %d", count, len(branches))
	}
	return nil
}

func (s *swiftSteps) branchesShouldInclude(ctx context.Context, code string) error {
	branches, err := s.branches()
	if err != nil {
		return err
	}
	if !containsCode(branches, code) {
		return fmt.Errorf("branch %s not listed", code)
	}
	return nil
}

func (s *swiftSteps) countryListingShouldInclude(ctx context.Context, code string) error {
	codes, err := s.objectList("swiftCodes")
	if err != nil {
		return err
	}
	if !containsCode(codes, code) {
		return fmt.Errorf("code %s not in country listing", code)
	}
	return nil
}

func (s *swiftSteps) countryListingShouldNotInclude(ctx context.Context, code string) error {
	if s.tc.GetLastStatus() == 404 {
		return nil
	}
	codes, err := s.objectList("swiftCodes")
	if err != nil {
		return err
	}
	if containsCode(codes, code) {
		return fmt.Errorf("code %s unexpectedly in country listing", code)
	}
	return nil
}

func containsCode(items []map[string]interface{}, code string) bool {
	for _, item := range items {
		if item["swiftCode"] == code {
			return true
		}
	}
	return false
}
