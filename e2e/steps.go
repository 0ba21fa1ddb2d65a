package e2e

import (
	"github.com/cucumber/godog"

	"swiftregistry/e2e/steps/common"
	"swiftregistry/e2e/steps/swiftcode"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Register common steps (health, generic requests, assertions)
	common.RegisterSteps(ctx, tc)

	// Register registry-specific steps
	swiftcode.RegisterSteps(ctx, tc)
}
