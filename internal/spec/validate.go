package spec

import (
	"errors"
	"fmt"
)

// ErrInvalid is the parent of every validation failure, so boundary code
// can map the whole family to a 400-class response with one errors.Is.
var ErrInvalid = errors.New("invalid test spec")

var (
	errNameRequired       = fmt.Errorf("%w: name is required", ErrInvalid)
	errTargetURLRequired  = fmt.Errorf("%w: target.url is required", ErrInvalid)
	errAssertionsRequired = fmt.Errorf("%w: automation.assertions is required", ErrInvalid)
	errUnknownAction      = fmt.Errorf("%w: unknown step action", ErrInvalid)
	errBaselineRequired   = fmt.Errorf("%w: visual.screenshots.baseline is required", ErrInvalid)
	errToleranceRange     = fmt.Errorf("%w: visual.screenshots.tolerance must be within [0,1]", ErrInvalid)
)

var validActions = map[Action]bool{
	ActionClick:  true,
	ActionType:   true,
	ActionHover:  true,
	ActionScroll: true,
	ActionWait:   true,
}

// Validate checks the structural requirements enforced at intake.
// Step-level target/value preconditions are deliberately left to the
// automation backend, which reports them as failed steps rather than
// rejected specs.
func (t *Test) Validate() error {
	if t.Name == "" {
		return errNameRequired
	}

	if t.Target.URL == "" {
		return errTargetURLRequired
	}

	if t.Automation.Assertions == nil {
		return errAssertionsRequired
	}

	for i, step := range t.Automation.Steps {
		if !validActions[step.Action] {
			return fmt.Errorf("%w: step %d has action %q", errUnknownAction, i, step.Action)
		}
	}

	if baseline := t.Visual.Screenshots; baseline != nil {
		if baseline.Baseline == "" {
			return errBaselineRequired
		}

		if baseline.Tolerance < 0 || baseline.Tolerance > 1 {
			return fmt.Errorf("%w: got %v", errToleranceRange, baseline.Tolerance)
		}
	}

	return nil
}
