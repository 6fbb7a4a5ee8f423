// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"github.com/invowk/realmbridge/internal/framework"

	"github.com/charmbracelet/lipgloss"
)

// Color palette shared by all CLI output. Tuned for dark terminals.
const (
	// ColorPrimary is purple, for titles and headers.
	ColorPrimary = lipgloss.Color("#7C3AED")
	// ColorMuted is gray, for secondary text.
	ColorMuted = lipgloss.Color("#6B7280")
	// ColorSuccess is green, for active modules and positive outcomes.
	ColorSuccess = lipgloss.Color("#10B981")
	// ColorError is red, for failures.
	ColorError = lipgloss.Color("#EF4444")
	// ColorWarning is amber, for warnings and unresolved modules.
	ColorWarning = lipgloss.Color("#F59E0B")
	// ColorHighlight is blue, for identifiers and paths.
	ColorHighlight = lipgloss.Color("#3B82F6")
)

var (
	// TitleStyle is for primary headers and section titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)

	// SubtitleStyle is for secondary headers and descriptions.
	SubtitleStyle = lipgloss.NewStyle().
			Foreground(ColorMuted)

	// SuccessStyle is for success messages and positive indicators.
	SuccessStyle = lipgloss.NewStyle().
			Foreground(ColorSuccess)

	// ErrorStyle is for error messages and failure indicators.
	ErrorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorError)

	// WarningStyle is for warning messages and caution indicators.
	WarningStyle = lipgloss.NewStyle().
			Foreground(ColorWarning)

	// CmdStyle is for identifiers, paths and code.
	CmdStyle = lipgloss.NewStyle().
			Foreground(ColorHighlight)

	// headerStyle is for table headers.
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary).
			Padding(0, 1)

	// cellStyle pads table cells.
	cellStyle = lipgloss.NewStyle().Padding(0, 1)
)

// stateStyle colors a module state.
func stateStyle(s framework.ModuleState) lipgloss.Style {
	switch s {
	case framework.StateActive:
		return SuccessStyle
	case framework.StateInstalled:
		return WarningStyle
	case framework.StateUninstalled:
		return ErrorStyle
	default:
		return SubtitleStyle
	}
}
