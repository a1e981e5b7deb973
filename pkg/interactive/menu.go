// Package interactive provides terminal user interface components
package interactive

import (
	"errors"
	"fmt"

	"github.com/AlecAivazis/survey/v2"
)

// MenuOption represents a menu item with its associated action
type MenuOption struct {
	Name        string
	Description string
	Action      func() error
}

// ErrExit is returned when the user chooses to exit or cancels a prompt
var ErrExit = errors.New("exit")

// ShowMenu displays the menu and runs the selected option's action
func ShowMenu(options []MenuOption) error {
	choices := make([]string, 0, len(options)+1)
	for _, opt := range options {
		choices = append(choices, fmt.Sprintf("%s - %s", opt.Name, opt.Description))
	}
	choices = append(choices, "Exit")

	var index int
	prompt := &survey.Select{
		Message: "What would you like to do?",
		Options: choices,
	}

	if err := survey.AskOne(prompt, &index); err != nil {
		return ErrExit
	}

	if index >= len(options) {
		return ErrExit
	}

	return options[index].Action()
}

// PauseForEnter waits for the user to press Enter
func PauseForEnter() {
	fmt.Println("\nPress Enter to continue...")
	_, _ = fmt.Scanln()
}

// Confirm asks for user confirmation
func Confirm(message string, defaultValue bool) bool {
	confirmed := false
	prompt := &survey.Confirm{
		Message: message,
		Default: defaultValue,
	}
	_ = survey.AskOne(prompt, &confirmed)
	return confirmed
}
