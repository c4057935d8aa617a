package plan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bigbag/ec-flash-tester/internal/flashtest"
	"github.com/bigbag/ec-flash-tester/internal/protocol"
)

// ErrStepFailed is returned by Run when a step does not pass.
var ErrStepFailed = errors.New("plan step failed")

// StepCallback is called after each step.
type StepCallback func(done, total int, result StepResult)

// Runner executes plans against one EC.
type Runner struct {
	tester *flashtest.Tester
	seed   uint64
	logger *zap.Logger
	onStep StepCallback
}

// NewRunner creates a Runner. seed is recorded in reports so a run can be
// replayed; it must be the seed of the tester's parameter source.
func NewRunner(tester *flashtest.Tester, seed uint64, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{tester: tester, seed: seed, logger: logger}
}

// SetStepCallback sets the per-step callback.
func (r *Runner) SetStepCallback(cb StepCallback) {
	r.onStep = cb
}

// Run executes the steps of p in order and stops at the first failure.
// The report is returned even when a step fails.
func (r *Runner) Run(ctx context.Context, p *Plan) (*Report, error) {
	report := &Report{
		RunID:   uuid.NewString(),
		Plan:    p.Name,
		Seed:    r.seed,
		Started: time.Now(),
	}
	log := r.logger.With(zap.String("run_id", report.RunID), zap.String("plan", p.Name))
	log.Info("plan started", zap.Int("steps", len(p.Steps)))

	finish := func(err error) (*Report, error) {
		report.Finished = time.Now()
		report.Passed = err == nil
		if err != nil {
			log.Error("plan failed", zap.Error(err))
		} else {
			log.Info("plan passed", zap.Duration("elapsed", report.Finished.Sub(report.Started)))
		}
		return report, err
	}

	if p.NeedsROSize() {
		ro, err := r.tester.ROSize(ctx)
		if err != nil {
			return finish(fmt.Errorf("failed to resolve RW region: %w", err))
		}
		report.ROSize = ro
	}

	for i, step := range p.Steps {
		result := r.runStep(ctx, i, step, report)
		report.Steps = append(report.Steps, result)

		if r.onStep != nil {
			r.onStep(i+1, len(p.Steps), result)
		}

		if !result.Passed {
			return finish(fmt.Errorf("%w: step %d (%s at 0x%X): %s",
				ErrStepFailed, i+1, step.Op, result.Offset, result.Error))
		}
	}

	return finish(nil)
}

func (r *Runner) runStep(ctx context.Context, index int, step Step, report *Report) StepResult {
	result := StepResult{
		Index:      index + 1,
		Op:         step.Op,
		Offset:     step.Offset,
		Size:       step.Size,
		ExpectFail: step.ExpectFail,
	}

	offset, err := step.address(report.ROSize)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Offset = offset

	start := time.Now()

	switch step.Op {
	case OpInfo:
		err = r.info(ctx, report)
	case OpErase:
		err = r.tester.TestErase(ctx, offset, step.Size)
	case OpWrite:
		var params protocol.StreamParams
		params, err = r.tester.TestWrite(ctx, offset, step.Size, step.ExpectFail)
		result.Params = &params
	case OpRead:
		err = r.tester.TestRead(ctx, offset, step.Size)
	default:
		err = fmt.Errorf("unknown op %q", step.Op)
	}

	result.Duration = Duration(time.Since(start))
	result.Passed = err == nil
	if err != nil {
		result.Error = err.Error()
	}
	return result
}

func (r *Runner) info(ctx context.Context, report *Report) error {
	size, err := r.tester.FlashSize(ctx)
	if err != nil {
		return err
	}
	ro, err := r.tester.ROSize(ctx)
	if err != nil {
		return err
	}
	report.FlashSize = size
	report.ROSize = ro
	return nil
}
