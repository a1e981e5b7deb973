package interactive

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/AlecAivazis/survey/v2"

	"github.com/uivet/uivet/internal/spec"
)

// BuildTest assembles a test spec from terminal prompts. The result still
// goes through the same validation as file and HTTP intake. Returns ErrExit
// when the user cancels.
func BuildTest() (*spec.Test, error) {
	test := &spec.Test{}

	if err := askRequired("Test name:", &test.Name); err != nil {
		return nil, err
	}

	if err := ask("Description:", &test.Description); err != nil {
		return nil, err
	}

	if err := askRequired("Target URL:", &test.Target.URL); err != nil {
		return nil, err
	}

	if err := ask("Base URL (optional):", &test.Target.BaseURL); err != nil {
		return nil, err
	}

	assertions := &spec.Assertions{
		Functional:  Confirm("Check functional steps?", true),
		Visual:      Confirm("Run visual analysis?", false),
		Performance: Confirm("Collect performance metrics?", false),
	}
	test.Automation.Assertions = assertions

	if assertions.Visual {
		if err := askVisual(test); err != nil {
			return nil, err
		}
	}

	for Confirm("Add an automation step?", len(test.Automation.Steps) == 0) {
		step, err := askStep()
		if err != nil {
			return nil, err
		}

		test.Automation.Steps = append(test.Automation.Steps, step)
	}

	return test, nil
}

func askVisual(test *spec.Test) error {
	if err := ask("Visual instructions for the oracle:", &test.Visual.Instructions); err != nil {
		return err
	}

	var err error

	if test.Visual.Expectations.Layout, err = askList("Layout expectations (comma-separated):"); err != nil {
		return err
	}

	if test.Visual.Expectations.Design, err = askList("Design expectations (comma-separated):"); err != nil {
		return err
	}

	if test.Visual.Expectations.Accessibility, err = askList("Accessibility expectations (comma-separated):"); err != nil {
		return err
	}

	if !Confirm("Compare against a stored baseline screenshot?", false) {
		return nil
	}

	baseline := &spec.BaselineSpec{}
	if err := askRequired("Baseline screenshot reference:", &baseline.Baseline); err != nil {
		return err
	}

	if baseline.Tolerance, err = askFloat("Mismatch tolerance (0-1):", 0.1); err != nil {
		return err
	}

	test.Visual.Screenshots = baseline

	return nil
}

func askStep() (spec.AutomationStep, error) {
	step := spec.AutomationStep{}

	actions := []string{
		string(spec.ActionClick),
		string(spec.ActionType),
		string(spec.ActionHover),
		string(spec.ActionScroll),
		string(spec.ActionWait),
	}

	var action string
	if err := survey.AskOne(&survey.Select{Message: "Step action:", Options: actions}, &action); err != nil {
		return step, ErrExit
	}
	step.Action = spec.Action(action)

	if step.Action != spec.ActionWait {
		if err := askRequired("Target selector (CSS):", &step.Target); err != nil {
			return step, err
		}
	}

	if step.Action == spec.ActionType {
		if err := askRequired("Text to type:", &step.Value); err != nil {
			return step, err
		}
	}

	if step.Action == spec.ActionWait {
		ms, err := askInt("Wait duration in milliseconds:", spec.DefaultWaitMs)
		if err != nil {
			return step, err
		}
		step.TimeoutMs = int64(ms)
	}

	return step, nil
}

func ask(message string, target *string) error {
	if err := survey.AskOne(&survey.Input{Message: message}, target); err != nil {
		return ErrExit
	}
	return nil
}

func askRequired(message string, target *string) error {
	if err := survey.AskOne(&survey.Input{Message: message}, target, survey.WithValidator(survey.Required)); err != nil {
		return ErrExit
	}
	return nil
}

func askList(message string) ([]string, error) {
	var raw string
	if err := ask(message, &raw); err != nil {
		return nil, err
	}

	return splitList(raw), nil
}

// splitList turns a comma-separated answer into trimmed entries.
func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))

	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}

	return out
}

func askInt(message string, defaultValue int) (int, error) {
	var raw string
	if err := survey.AskOne(&survey.Input{Message: message, Default: strconv.Itoa(defaultValue)}, &raw); err != nil {
		return 0, ErrExit
	}

	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", raw, err)
	}

	return value, nil
}

func askFloat(message string, defaultValue float64) (float64, error) {
	var raw string
	if err := survey.AskOne(&survey.Input{Message: message, Default: strconv.FormatFloat(defaultValue, 'f', -1, 64)}, &raw); err != nil {
		return 0, ErrExit
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", raw, err)
	}

	return value, nil
}
