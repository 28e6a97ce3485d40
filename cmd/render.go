package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/iziplay/xeno-corpus/pkg/annotation"
	"github.com/iziplay/xeno-corpus/pkg/sync"
	"github.com/iziplay/xeno-corpus/pkg/xenocanto"
)

const barWidth = 40

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ff9f"))
	labelStyle = lipgloss.NewStyle().Bold(true)
	barStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#00ff9f"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6e7681"))
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff5f5f"))
)

type bar struct {
	label   string
	count   int
	percent float64
}

// renderBars renders one horizontal bar per entry, scaled on the largest one
func renderBars(title string, bars []bar) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")

	if len(bars) == 0 {
		b.WriteString(dimStyle.Render("no data"))
		b.WriteString("\n")
		return b.String()
	}

	labelWidth, largest := 0, 0.0
	for _, e := range bars {
		labelWidth = max(labelWidth, lipgloss.Width(e.label))
		largest = max(largest, e.percent)
	}

	for _, e := range bars {
		n := 0
		if largest > 0 {
			n = int(e.percent / largest * barWidth)
		}
		label := labelStyle.Width(labelWidth).Render(e.label)
		fmt.Fprintf(&b, "%s %s%s %s\n",
			label,
			barStyle.Render(strings.Repeat("█", n)),
			strings.Repeat(" ", barWidth-n),
			dimStyle.Render(fmt.Sprintf("%6.2f%% (%d)", e.percent, e.count)))
	}
	return b.String()
}

func renderDistribution(title string, shares []xenocanto.Share) string {
	bars := make([]bar, len(shares))
	for i, s := range shares {
		bars[i] = bar{label: s.Label, count: s.Count, percent: s.Percent}
	}
	return renderBars(title, bars)
}

func renderClasses(title string, counts []annotation.ClassCount) string {
	total := 0
	for _, c := range counts {
		total += c.Count
	}
	bars := make([]bar, len(counts))
	for i, c := range counts {
		pct := 0.0
		if total > 0 {
			pct = float64(c.Count) / float64(total) * 100
		}
		bars[i] = bar{label: fmt.Sprintf("%d %s", c.ClassID, c.Class), count: c.Count, percent: pct}
	}
	return renderBars(title, bars)
}

func renderResult(res *sync.Result) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Acquisition " + res.ID))
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("query     "), res.Query)
	fmt.Fprintf(&b, "%s %d of %d recordings\n", labelStyle.Render("retained  "), res.Retained, res.NumRecordings)
	for id, label := range res.Species {
		fmt.Fprintf(&b, "%s %d %s\n", labelStyle.Render("class     "), id, label)
	}
	if r := res.Report; r != nil {
		fmt.Fprintf(&b, "%s %d (%s)\n", labelStyle.Render("downloaded"), r.Downloaded, humanize.Bytes(uint64(r.Bytes)))
		fmt.Fprintf(&b, "%s %d\n", labelStyle.Render("skipped   "), r.Skipped)
		fmt.Fprintf(&b, "%s %d\n", labelStyle.Render("indexed   "), r.Indexed)
		failed := fmt.Sprint(r.Failed)
		if r.Failed > 0 {
			failed = failStyle.Render(failed)
		}
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("failed    "), failed)
		for _, f := range r.Failures {
			fmt.Fprintf(&b, "  %s\n", dimStyle.Render(fmt.Sprintf("%s %s: %s", f.ID, f.FileName, f.Error)))
		}
	}
	return b.String()
}
