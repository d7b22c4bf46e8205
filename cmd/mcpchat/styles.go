// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"github.com/charmbracelet/lipgloss"
)

// Console style colors using lipgloss
var (
	// styleHeader styles section headers and the banner
	styleHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")) // blue bold

	// stylePrompt styles the input prompt
	stylePrompt = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")) // green

	// styleTool styles tool names
	styleTool = lipgloss.NewStyle().Foreground(lipgloss.Color("214")) // orange

	// styleError styles error output
	styleError = lipgloss.NewStyle().Foreground(lipgloss.Color("196")) // red

	// styleWarn styles warning output
	styleWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("214")) // orange

	// styleMuted styles secondary text
	styleMuted = lipgloss.NewStyle().Foreground(lipgloss.Color("245")) // gray
)

// Symbols for status indicators
const (
	symbolError = "✗"
	symbolWarn  = "⚠"
)

// renderError renders an error message with red X
func renderError(msg string) string {
	return styleError.Render(symbolError) + " " + msg
}

// renderWarn renders a warning message with orange symbol
func renderWarn(msg string) string {
	return styleWarn.Render(symbolWarn) + " " + msg
}
