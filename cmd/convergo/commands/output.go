package commands

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/pterm/pterm"

	"github.com/openfroyo/convergo/pkg/diff"
	"github.com/openfroyo/convergo/pkg/engine"
	"github.com/openfroyo/convergo/pkg/errors"
	"github.com/openfroyo/convergo/pkg/generation"
	"github.com/openfroyo/convergo/pkg/manager"
)

var (
	colorAdd     = lipgloss.AdaptiveColor{Light: "#2E7D32", Dark: "#81C784"}
	colorRemove  = lipgloss.AdaptiveColor{Light: "#C62828", Dark: "#E57373"}
	colorCurrent = lipgloss.AdaptiveColor{Light: "#1565C0", Dark: "#64B5F6"}
	colorBuilt   = lipgloss.AdaptiveColor{Light: "#6A1B9A", Dark: "#BA68C8"}
	colorMuted   = lipgloss.AdaptiveColor{Light: "#757575", Dark: "#9E9E9E"}

	addStyle     = lipgloss.NewStyle().Foreground(colorAdd)
	removeStyle  = lipgloss.NewStyle().Foreground(colorRemove)
	headerStyle  = lipgloss.NewStyle().Bold(true)
	currentStyle = lipgloss.NewStyle().Bold(true).Foreground(colorCurrent)
	builtStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorBuilt)
	mutedStyle   = lipgloss.NewStyle().Foreground(colorMuted)
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorRemove)
)

// stdinIsTerminal is swapped out by tests.
var stdinIsTerminal = func() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// confirm asks a yes/no question. Without a terminal there is nobody to ask,
// so it fails and points at the --yes flag instead of assuming an answer.
func confirm(question string) (bool, error) {
	if !stdinIsTerminal() {
		return false, errors.New(errors.KindInternal, "confirmation requires a terminal, pass --yes to skip it")
	}
	ok, err := pterm.DefaultInteractiveConfirm.WithDefaultText(question).Show()
	if err != nil {
		return false, errors.Wrap(err, errors.KindInternal, "failed to read confirmation, pass --yes to skip it")
	}
	return ok, nil
}

// renderEntries prints one "+ item" or "- item" line per entry, indented.
func renderEntries(w io.Writer, entries []diff.Entry, indent string) {
	for _, e := range entries {
		style := addStyle
		if e.Mode == diff.ModeRemove {
			style = removeStyle
		}
		fmt.Fprintln(w, indent+style.Render(e.Mode.Symbol()+" "+e.Value))
	}
}

// renderDiff prints a per-manager diff. Managers without changes are skipped.
func renderDiff(w io.Writer, changes map[string][]diff.Entry) int {
	shown := 0
	for _, name := range diff.Managers(changes) {
		entries := changes[name]
		if len(entries) == 0 {
			continue
		}
		fmt.Fprintln(w, headerStyle.Render(name+":"))
		renderEntries(w, entries, "  ")
		shown++
	}
	if shown == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No differences"))
	}
	return shown
}

// renderGeneration prints every manager with its items.
func renderGeneration(w io.Writer, g generation.Generation) {
	names := g.ManagerNames()
	if len(names) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No managers declared"))
		return
	}
	for _, name := range names {
		items := g.Items(name)
		fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%s (%d):", name, len(items))))
		for _, item := range items {
			fmt.Fprintln(w, "  "+item)
		}
	}
}

// generationLine formats one history entry with its pointer tags.
func generationLine(info engine.GenerationInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%3d  %s  %s", info.Index, mutedStyle.Render(shortID(info.ID)), info.Message)
	if info.Current {
		b.WriteString(" " + currentStyle.Render("[CURRENT]"))
	}
	if info.Built {
		b.WriteString(" " + builtStyle.Render("[BUILT]"))
	}
	return b.String()
}

func renderPlan(w io.Writer, plan engine.Plan) {
	if plan.IsEmpty() {
		fmt.Fprintln(w, mutedStyle.Render("Nothing to do"))
		return
	}
	for _, step := range plan.Steps {
		mode := diff.ModeAdd
		if step.Action != manager.ActionAdd {
			mode = diff.ModeRemove
		}
		entries := make([]diff.Entry, 0, len(step.Items))
		for _, item := range step.Items {
			entries = append(entries, diff.Entry{Mode: mode, Value: item})
		}
		fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%s %s:", step.Manager, step.Action)))
		renderEntries(w, entries, "  ")
	}
}

func shortID(id string) string {
	if len(id) > 10 {
		return id[:10]
	}
	return id
}
