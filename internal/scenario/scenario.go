// Package scenario provides client-side test scenarios that are run against a
// backend's endpoint. A scenario only sees the bound environment; it knows
// nothing about how the backend was launched.
package scenario

import (
	"context"

	"github.com/LeonWang0735/s3s-conformance/internal/backend"
)

// Scenario is a black-box conformance check against one backend.
type Scenario interface {
	// Name identifies the scenario in reports.
	Name() string
	// Run executes the scenario against env and returns its captured output.
	// A non-nil error means the scenario failed; the error carries the
	// failure detail, never a harness-level fault.
	Run(ctx context.Context, env backend.BoundEnv) (output string, err error)
}

// Builtin returns the named built-in scenario, if one exists.
func Builtin(name string) (Scenario, bool) {
	switch name {
	case "smoke":
		return &Smoke{}, true
	case "presigned-post-range":
		return &PresignedPostRange{}, true
	default:
		return nil, false
	}
}

// BuiltinNames lists the built-in scenarios for help text.
func BuiltinNames() []string {
	return []string{"smoke", "presigned-post-range"}
}
