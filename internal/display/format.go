package display

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/nilfheim/boltget/internal/engine"
)

// Severity buckets a message or a status indicator the way an engine
// or segment's own state does: done, failing, paused/warned, or still
// in flight. Every style+symbol pair the terminal renderer uses is
// keyed off this one enum instead of a grab-bag of named helpers, so
// adding a new outcome only means adding a case here.
type Severity int

const (
	SeverityPending Severity = iota
	SeveritySuccess
	SeverityWarning
	SeverityError
	SeverityHeader
	SeverityDebug
	SeverityStream
)

type severityLook struct {
	style  lipgloss.Style
	symbol string
}

var severityLooks = map[Severity]severityLook{
	SeverityPending: {lipgloss.NewStyle().Foreground(lipgloss.Color("12")), "◉"},  // blue
	SeveritySuccess: {lipgloss.NewStyle().Foreground(lipgloss.Color("2")), "✓"},   // green
	SeverityWarning: {lipgloss.NewStyle().Foreground(lipgloss.Color("11")), "!"},  // yellow
	SeverityError:   {lipgloss.NewStyle().Foreground(lipgloss.Color("9")), "✗"},   // red
	SeverityHeader:  {lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69")), ""},
	SeverityDebug:   {lipgloss.NewStyle().Foreground(lipgloss.Color("250")), "·"}, // light grey
	SeverityStream:  {lipgloss.NewStyle().Foreground(lipgloss.Color("240")), "•"}, // grey
}

// debugStyle and streamStyle are used directly by the progress bar and
// the stats line below, which render far more often than a one-line
// message and don't need the Severity indirection.
var (
	debugStyle  = severityLooks[SeverityDebug].style
	streamStyle = severityLooks[SeverityStream].style
)

// StyleSymbols carries the bullet/hline glyphs the progress bar draws
// with; these aren't severities, they're decoration, so they stay a
// flat lookup rather than joining the Severity dispatch above.
var StyleSymbols = map[string]string{
	"bullet": "•",
	"hline":  "━",
}

// Print renders one line of CLI-facing output styled by sev.
func Print(sev Severity, text string) {
	fmt.Println(severityLooks[sev].style.Render(text))
}

func PrintSuccess(text string) { Print(SeveritySuccess, text) }
func PrintWarning(text string) { Print(SeverityWarning, text) }
func PrintError(text string)   { Print(SeverityError, text) }
func PrintHeader(text string)  { Print(SeverityHeader, text) }

// Indicator renders sev's one-glyph status marker, the same glyph a
// row's statusIndicator uses for its engine/segment state.
func Indicator(sev Severity) string {
	look := severityLooks[sev]
	return look.style.Render(look.symbol)
}

// severityForEngineState maps an engine's terminal/non-terminal state
// onto the same Severity buckets CLI messages use, so a completed
// download's row renders with the identical palette as PrintSuccess.
func severityForEngineState(s engine.EngineState) Severity {
	switch s {
	case engine.EngineCompleted:
		return SeveritySuccess
	case engine.EngineFailed, engine.EngineCancelled:
		return SeverityError
	case engine.EnginePaused:
		return SeverityWarning
	default:
		return SeverityPending
	}
}

// FormatBytes converts a byte count to a human-readable string, e.g.
// "4.77 MB".
func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatSpeed renders a bytes/sec rate using the same unit ladder as
// FormatBytes.
func FormatSpeed(bytesPerSec float64) string {
	if bytesPerSec <= 0 {
		return "0 B/s"
	}
	formatted := FormatBytes(uint64(bytesPerSec))
	return formatted[:len(formatted)-1] + "B/s"
}

// FormatETA renders a duration rounded to the second in Go's duration
// notation (e.g. "1m30s"); a non-positive or unknown ETA renders as "--".
func FormatETA(d time.Duration) string {
	if d <= 0 {
		return "--"
	}
	return d.Round(time.Second).String()
}

// PrintProgressBar renders a filled/unfilled bar plus a percentage.
func PrintProgressBar(current, total int64, width int) string {
	if width <= 0 {
		width = 30
	}
	if total <= 0 {
		total = 1
	}
	if current < 0 {
		current = 0
	}
	if current > total {
		current = total
	}
	percent := float64(current) / float64(total)
	filled := max(0, min(int(percent*float64(width)), width))
	bar := StyleSymbols["bullet"]
	bar += strings.Repeat(StyleSymbols["hline"], filled)
	if filled < width {
		bar += strings.Repeat(" ", width-filled)
	}
	bar += StyleSymbols["bullet"]
	return debugStyle.Render(fmt.Sprintf("%s %.1f%% %s ", bar, percent*100, StyleSymbols["bullet"]))
}

func getTerminalHeight() int {
	_, height, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || height <= 0 {
		return 24
	}
	return height
}
