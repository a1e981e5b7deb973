// Package report renders state snapshots for terminal display: colored
// status markers, result tables and the analytics summary.
package report

import (
	"fmt"

	"github.com/fatih/color"

	"github.com/uivet/uivet/internal/result"
)

// ColorHelper provides utilities for coloring terminal output
type ColorHelper struct {
	enabled bool
}

// NewColorHelper creates a new color helper
// Colors are enabled only when outputting to a terminal
func NewColorHelper() *ColorHelper {
	return &ColorHelper{
		enabled: !color.NoColor,
	}
}

// Success returns green colored text
func (c *ColorHelper) Success(text string) string {
	if !c.enabled {
		return text
	}
	return color.GreenString(text)
}

// Failure returns red colored text
func (c *ColorHelper) Failure(text string) string {
	if !c.enabled {
		return text
	}
	return color.RedString(text)
}

// Warning returns yellow colored text
func (c *ColorHelper) Warning(text string) string {
	if !c.enabled {
		return text
	}
	return color.YellowString(text)
}

// Info returns cyan colored text
func (c *ColorHelper) Info(text string) string {
	if !c.enabled {
		return text
	}
	return color.CyanString(text)
}

// Muted returns gray colored text
func (c *ColorHelper) Muted(text string) string {
	if !c.enabled {
		return text
	}
	return color.New(color.FgHiBlack).Sprint(text)
}

// Bold returns bold text
func (c *ColorHelper) Bold(text string) string {
	if !c.enabled {
		return text
	}
	return color.New(color.Bold).Sprint(text)
}

// Header returns bold cyan text for section headers
func (c *ColorHelper) Header(text string) string {
	if !c.enabled {
		return text
	}
	return color.New(color.FgCyan, color.Bold).Sprint(text)
}

// FormatStatus returns appropriately colored text for a run status
func (c *ColorHelper) FormatStatus(status result.Status) string {
	switch status {
	case result.StatusPass:
		return c.Success("✓ PASS")
	case result.StatusError:
		return c.Warning("⚠ ERROR")
	default:
		return c.Failure("✗ FAIL")
	}
}

// FormatSteps returns colored step counts based on pass/fail
func (c *ColorHelper) FormatSteps(passed, total int) string {
	text := fmt.Sprintf("%d/%d", passed, total)
	if passed == total {
		return c.Success(text)
	}
	if passed == 0 {
		return c.Failure(text)
	}
	return c.Warning(text)
}

// FormatPercentage returns colored percentage based on value
func (c *ColorHelper) FormatPercentage(value float64) string {
	text := fmt.Sprintf("%.1f%%", value)
	if value == 100.0 {
		return c.Success(text)
	}
	if value >= 90.0 {
		return c.Warning(text)
	}
	return c.Failure(text)
}
