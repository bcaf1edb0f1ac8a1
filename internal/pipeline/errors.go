package pipeline

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/seer/internal/config"
	"github.com/fyrsmithlabs/seer/internal/reranker"
	"github.com/fyrsmithlabs/seer/internal/search"
)

var (
	// ErrProviderUnavailable matches failed search provider calls.
	ErrProviderUnavailable = search.ErrProviderUnavailable

	// ErrParse matches unusable reranker output. Parse failures are
	// recovered inside their stage and only surface in warnings.
	ErrParse = reranker.ErrMalformedOutput

	// ErrBudgetExceeded marks work cut short by a stage or run budget.
	ErrBudgetExceeded = errors.New("budget exceeded")

	// ErrPipelineAborted is matched by every error returned for a run the
	// caller cancelled.
	ErrPipelineAborted = errors.New("pipeline aborted")

	// ErrFatalConfiguration matches configuration errors found at startup.
	ErrFatalConfiguration = config.ErrFatalConfiguration

	// ErrInvalidPlan is returned for a query plan that cannot run.
	ErrInvalidPlan = errors.New("invalid query plan")
)

// StageError reports an unrecoverable failure in one stage. The Result
// returned with it holds the ranked output of the last successful stage.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// PipelineAbortedError reports a run cancelled by its caller. No partial
// output accompanies it.
type PipelineAbortedError struct {
	Stage Stage
	Err   error
}

func (e *PipelineAbortedError) Error() string {
	return fmt.Sprintf("pipeline aborted during %s: %v", e.Stage, e.Err)
}

func (e *PipelineAbortedError) Unwrap() error { return e.Err }

// Is reports PipelineAbortedError as ErrPipelineAborted.
func (e *PipelineAbortedError) Is(target error) bool {
	return target == ErrPipelineAborted
}
