// Package spec defines the test specification model accepted at intake.
// A spec describes what to drive (target page, automation steps) and what
// to judge (visual expectations, assertion toggles); execution state and
// run outcomes live elsewhere.
package spec

// Action is one atomic automation step kind.
type Action string

// Automation step actions.
const (
	ActionClick  Action = "click"
	ActionType   Action = "type"
	ActionHover  Action = "hover"
	ActionScroll Action = "scroll"
	ActionWait   Action = "wait"
)

// DefaultWaitMs is the pause applied to a wait step with no timeout.
const DefaultWaitMs = 1000

// Test is an immutable job specification once enqueued. The ID is assigned
// by the server at intake, never by the caller.
type Test struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	Target      Target         `json:"target" yaml:"target"`
	Visual      VisualSpec     `json:"visual" yaml:"visual"`
	Automation  AutomationSpec `json:"automation" yaml:"automation"`
}

// Target identifies the page under test.
type Target struct {
	URL     string `json:"url" yaml:"url"`
	BaseURL string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`
}

// VisualSpec carries the natural-language expectations handed to the
// visual oracle, plus an optional baseline reference for comparison.
type VisualSpec struct {
	Instructions string        `json:"instructions" yaml:"instructions"`
	Expectations Expectations  `json:"expectations" yaml:"expectations"`
	Screenshots  *BaselineSpec `json:"screenshots,omitempty" yaml:"screenshots,omitempty"`
}

// Expectations groups free-text visual expectations by concern.
type Expectations struct {
	Layout        []string `json:"layout" yaml:"layout"`
	Design        []string `json:"design" yaml:"design"`
	Accessibility []string `json:"accessibility" yaml:"accessibility"`
}

// BaselineSpec references a stored baseline screenshot and the mismatch
// tolerance applied when comparing the current capture against it.
type BaselineSpec struct {
	Baseline  string  `json:"baseline" yaml:"baseline"`
	Tolerance float64 `json:"tolerance" yaml:"tolerance"`
}

// AutomationSpec is the ordered step sequence plus the assertion toggles
// selecting which result sections get populated.
// Assertions is a pointer so intake can tell "absent" from "all false".
type AutomationSpec struct {
	Steps      []AutomationStep `json:"steps" yaml:"steps"`
	Assertions *Assertions      `json:"assertions" yaml:"assertions"`
}

// Assertions toggles which result sections a run produces.
type Assertions struct {
	Visual      bool `json:"visual" yaml:"visual"`
	Functional  bool `json:"functional" yaml:"functional"`
	Performance bool `json:"performance" yaml:"performance"`
}

// AutomationStep is one atomic browser action. Target is required for
// click/hover/scroll and Value additionally for type; wait ignores both
// and pauses for TimeoutMs (DefaultWaitMs when zero).
type AutomationStep struct {
	Action    Action `json:"action" yaml:"action"`
	Target    string `json:"target,omitempty" yaml:"target,omitempty"`
	Value     string `json:"value,omitempty" yaml:"value,omitempty"`
	TimeoutMs int64  `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Clone returns a deep copy, so queue moves never alias caller-held specs.
func (t *Test) Clone() *Test {
	if t == nil {
		return nil
	}

	c := *t
	c.Visual.Expectations = Expectations{
		Layout:        cloneStrings(t.Visual.Expectations.Layout),
		Design:        cloneStrings(t.Visual.Expectations.Design),
		Accessibility: cloneStrings(t.Visual.Expectations.Accessibility),
	}

	if t.Visual.Screenshots != nil {
		baseline := *t.Visual.Screenshots
		c.Visual.Screenshots = &baseline
	}

	if t.Automation.Assertions != nil {
		assertions := *t.Automation.Assertions
		c.Automation.Assertions = &assertions
	}

	if t.Automation.Steps != nil {
		c.Automation.Steps = make([]AutomationStep, len(t.Automation.Steps))
		copy(c.Automation.Steps, t.Automation.Steps)
	}

	return &c
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
