// Package plan describes and runs sequences of flash tests.
//
// Plans are HuJSON (JSON with comments and trailing commas):
//
//	{
//	  "name": "rw-region",
//	  "steps": [
//	    {"op": "erase", "region": "rw", "offset": 0, "size": 4096},
//	    {"op": "write", "region": "rw", "offset": 0, "size": 4096},
//	    {"op": "read",  "region": "rw", "offset": 0, "size": 4096},
//	    // RO is write protected
//	    {"op": "write", "offset": 0, "size": 256, "expect_fail": true},
//	  ],
//	}
package plan

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/tailscale/hujson"

	"github.com/bigbag/ec-flash-tester/internal/protocol"
)

// Operations a step can perform.
const (
	OpInfo  = "info"
	OpErase = "erase"
	OpWrite = "write"
	OpRead  = "read"
)

// Regions a step offset can be relative to.
const (
	RegionAbsolute = ""
	RegionRO       = "ro"
	RegionRW       = "rw"
)

// ErrInvalidPlan is returned for plans that fail validation.
var ErrInvalidPlan = errors.New("invalid plan")

// Plan is an ordered list of steps.
type Plan struct {
	Name  string `json:"name"`
	Steps []Step `json:"steps"`
}

// Step is a single flash test. Offset is relative to the start of Region;
// the RW region starts where the RO image ends.
type Step struct {
	Op         string `json:"op"`
	Region     string `json:"region,omitempty"`
	Offset     uint32 `json:"offset"`
	Size       uint32 `json:"size"`
	ExpectFail bool   `json:"expect_fail,omitempty"`
}

// Load reads and validates a plan file.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}

	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse decodes and validates a HuJSON plan.
func Parse(data []byte) (*Plan, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("invalid JSONC: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(standardized))
	dec.DisallowUnknownFields()

	var p Plan
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks every step.
func (p *Plan) Validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("%w: no steps", ErrInvalidPlan)
	}

	for i, s := range p.Steps {
		if err := s.validate(); err != nil {
			return fmt.Errorf("%w: step %d: %v", ErrInvalidPlan, i+1, err)
		}
	}
	return nil
}

// NeedsROSize reports whether any step is relative to the RW region.
func (p *Plan) NeedsROSize() bool {
	for _, s := range p.Steps {
		if s.Region == RegionRW {
			return true
		}
	}
	return false
}

func (s Step) validate() error {
	switch s.Region {
	case RegionAbsolute, RegionRO, RegionRW:
	default:
		return fmt.Errorf("unknown region %q", s.Region)
	}

	if s.ExpectFail && s.Op != OpWrite {
		return fmt.Errorf("expect_fail is only supported for %s", OpWrite)
	}

	switch s.Op {
	case OpInfo:
		return nil
	case OpErase, OpWrite:
	case OpRead:
		if err := protocol.CheckAligned(s.Size); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown op %q", s.Op)
	}

	if uint64(s.Offset)+uint64(s.Size) > 1<<32 {
		return fmt.Errorf("offset 0x%X size 0x%X overflows", s.Offset, s.Size)
	}
	return nil
}

// address resolves the step offset to an absolute flash offset. A RW step
// whose range would run past the 32-bit address space is rejected.
func (s Step) address(roSize uint32) (uint32, error) {
	if s.Region != RegionRW {
		return s.Offset, nil
	}
	if uint64(roSize)+uint64(s.Offset)+uint64(s.Size) > 1<<32 {
		return 0, fmt.Errorf("%w: rw offset 0x%X size 0x%X after RO size 0x%X overflows",
			ErrInvalidPlan, s.Offset, s.Size, roSize)
	}
	return roSize + s.Offset, nil
}
