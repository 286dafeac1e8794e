// Package ui provides terminal styling for coord CLI output.
// Uses the Ayu color theme with adaptive light/dark mode support.
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/steveyegge/coord/internal/types"
)

// Ayu theme color palette
var (
	ColorPass   = lipgloss.AdaptiveColor{Light: "#86b300", Dark: "#c2d94c"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "#f2ae49", Dark: "#ffb454"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "#f07171", Dark: "#f07178"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#828c99", Dark: "#6c7680"}
	ColorAccent = lipgloss.AdaptiveColor{Light: "#399ee6", Dark: "#59c2ff"}
)

var (
	PassStyle     = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle     = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle     = lipgloss.NewStyle().Foreground(ColorFail)
	MutedStyle    = lipgloss.NewStyle().Foreground(ColorMuted)
	AccentStyle   = lipgloss.NewStyle().Foreground(ColorAccent)
	CategoryStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
)

// Status icons
const (
	IconPass = "✓"
	IconWarn = "⚠"
	IconFail = "✗"
	IconInfo = "ℹ"
)

const SeparatorLight = "──────────────────────────────────────────"

func RenderPass(s string) string   { return PassStyle.Render(s) }
func RenderWarn(s string) string   { return WarnStyle.Render(s) }
func RenderFail(s string) string   { return FailStyle.Render(s) }
func RenderMuted(s string) string  { return MutedStyle.Render(s) }
func RenderAccent(s string) string { return AccentStyle.Render(s) }

// RenderCategory renders a section header in uppercase with accent color
func RenderCategory(s string) string {
	return CategoryStyle.Render(strings.ToUpper(s))
}

// RenderSeparator renders the light separator line in muted color
func RenderSeparator() string {
	return MutedStyle.Render(SeparatorLight)
}

func RenderPassIcon() string { return PassStyle.Render(IconPass) }
func RenderWarnIcon() string { return WarnStyle.Render(IconWarn) }
func RenderFailIcon() string { return FailStyle.Render(IconFail) }
func RenderInfoIcon() string { return AccentStyle.Render(IconInfo) }

// RenderAgentStatus colors an agent status: idle green, busy blue, dead red.
func RenderAgentStatus(s types.AgentStatus) string {
	switch s {
	case types.AgentIdle:
		return PassStyle.Render(string(s))
	case types.AgentBusy:
		return AccentStyle.Render(string(s))
	case types.AgentDead:
		return FailStyle.Render(string(s))
	}
	return string(s)
}

// RenderCommandStatus colors a command status by how far along it is.
func RenderCommandStatus(s types.CommandStatus) string {
	switch s {
	case types.CommandPending:
		return MutedStyle.Render(string(s))
	case types.CommandAssigned, types.CommandRunning:
		return AccentStyle.Render(string(s))
	case types.CommandCompleted:
		return PassStyle.Render(string(s))
	case types.CommandFailed:
		return FailStyle.Render(string(s))
	}
	return string(s)
}

// Age formats how long ago t was, relative to now, as "42s", "5m", "3h" or
// "2d".
func Age(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < 0:
		return "0s"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}

// Truncate shortens s to maxLen runes, ending with "...".
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
