package report

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"
)

// Reporter receives run progress. The core only talks to this interface so
// it stays testable without a terminal.
type Reporter interface {
	StartPhase(name string, total int)
	Advance(n int)
	Done()
	Summary(lines []string)
}

// Noop is a Reporter that discards everything.
type Noop struct{}

func (Noop) StartPhase(string, int) {}
func (Noop) Advance(int)            {}
func (Noop) Done()                  {}
func (Noop) Summary([]string)       {}

const consoleWidth = 72

var (
	phaseStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))
	countStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))
	summaryStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("8")).
			Padding(0, 1)
)

// Console is a plain sequential Reporter: one line per phase, a progress
// note every few hundred items, a boxed summary at the end. No event loop.
type Console struct {
	out io.Writer

	phase      string
	total      int
	done       int
	lastNotify int
	started    time.Time
}

// NewConsole returns a Reporter writing styled output to out.
func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

func (c *Console) StartPhase(name string, total int) {
	c.phase = name
	c.total = total
	c.done = 0
	c.lastNotify = 0
	c.started = time.Now()

	header := runewidth.Truncate(name, consoleWidth, "…")
	suffix := ""
	if total > 0 {
		suffix = countStyle.Render(fmt.Sprintf("  (%s items)", humanize.Comma(int64(total))))
	}
	fmt.Fprintln(c.out, phaseStyle.Render("▸ "+header)+suffix)
}

func (c *Console) Advance(n int) {
	c.done += n
	// Keep quiet runs quiet: only speak every 250 items.
	if c.done-c.lastNotify < 250 {
		return
	}
	c.lastNotify = c.done
	fmt.Fprintf(c.out, "  %s/%s\n",
		humanize.Comma(int64(c.done)), humanize.Comma(int64(c.total)))
}

func (c *Console) Done() {
	if c.phase == "" {
		return
	}
	took := humanize.RelTime(c.started, time.Now(), "", "")
	fmt.Fprintf(c.out, "  %s %s\n",
		countStyle.Render("done,"), countStyle.Render(took))
	c.phase = ""
}

func (c *Console) Summary(lines []string) {
	if len(lines) == 0 {
		return
	}
	body := ""
	for i, line := range lines {
		if i > 0 {
			body += "\n"
		}
		body += runewidth.Truncate(line, consoleWidth, "…")
	}
	fmt.Fprintln(c.out, summaryStyle.Render(body))
}
