package embedded

import (
	_ "embed"
)

//go:embed default_plan.hujson
var defaultPlan []byte

// DefaultPlan returns the built-in flash test plan in HuJSON.
func DefaultPlan() []byte {
	return defaultPlan
}
