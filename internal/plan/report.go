package plan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/natefinch/atomic"

	"github.com/bigbag/ec-flash-tester/internal/protocol"
)

// Report is the outcome of one plan run.
type Report struct {
	RunID     string       `json:"run_id"`
	Plan      string       `json:"plan"`
	Seed      uint64       `json:"seed"`
	Started   time.Time    `json:"started"`
	Finished  time.Time    `json:"finished"`
	Passed    bool         `json:"passed"`
	FlashSize uint32       `json:"flash_size,omitempty"`
	ROSize    uint32       `json:"ro_size,omitempty"`
	Steps     []StepResult `json:"steps"`
}

// StepResult is the outcome of one step. Params is set for writes.
type StepResult struct {
	Index      int                    `json:"index"`
	Op         string                 `json:"op"`
	Offset     uint32                 `json:"offset"`
	Size       uint32                 `json:"size"`
	ExpectFail bool                   `json:"expect_fail,omitempty"`
	Params     *protocol.StreamParams `json:"params,omitempty"`
	Passed     bool                   `json:"passed"`
	Error      string                 `json:"error,omitempty"`
	Duration   Duration               `json:"duration"`
}

// Duration marshals as a Go duration string such as "1.5s".
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// WriteReport writes r to path as indented JSON. The file is replaced
// atomically so an interrupted run never leaves a truncated report.
func WriteReport(path string, r *Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	data = append(data, '\n')

	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
