// Package main is the entry point for the uivet application
package main

import (
	"github.com/uivet/uivet/cmd"
)

func main() {
	cmd.Execute()
}
