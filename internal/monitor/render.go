package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/seer/internal/pipeline"
)

// DefaultTitleWidth is the title length RenderResult truncates to when
// RenderOptions.TitleWidth is zero.
const DefaultTitleWidth = 72

// RenderOptions tune RenderResult.
type RenderOptions struct {
	// Now anchors article ages; zero means time.Now().
	Now time.Time
	// TitleWidth truncates titles; zero means DefaultTitleWidth.
	TitleWidth int
	// Verbose adds URLs, sources and per-stage timings.
	Verbose bool
}

// getStatusBadge summarizes a finished run.
func getStatusBadge(res *pipeline.Result, runErr error) string {
	switch {
	case runErr != nil:
		return errorStyle.Render("✗ STOPPED")
	case res != nil && res.Degraded():
		return warningStyle.Render("⚠ DEGRADED")
	default:
		return healthyStyle.Render("✓ OK")
	}
}

// RenderResult renders a ranked run for the terminal. runErr is the error
// Run returned alongside res, if any; res may be nil when the run failed
// before ranking anything.
func RenderResult(res *pipeline.Result, runErr error, opts RenderOptions) string {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	width := opts.TitleWidth
	if width == 0 {
		width = DefaultTitleWidth
	}

	var b strings.Builder
	header := headerStyle.Render(" seer ")
	runID := ""
	if res != nil {
		runID = res.RunID
	}
	fmt.Fprintf(&b, "%s   %s   %s\n", header, getStatusBadge(res, runErr), dimStyle.Render(runID))

	b.WriteString(sectionStyle.Render("┃ Articles") + "\n")
	if res == nil || len(res.Documents) == 0 {
		b.WriteString(dimStyle.Render("  No new articles found.") + "\n")
	} else {
		for _, d := range res.Documents {
			fmt.Fprintf(&b, "  %s %s %s %s\n",
				labelStyle.Render(fmt.Sprintf("%2d.", d.Rank)),
				valueStyle.Render(truncate(d.Title, width)),
				dimStyle.Render(fmt.Sprintf("(%s · %s)", d.Domain, FormatAge(d.PublishedAt, now))),
				labelStyle.Render(fmt.Sprintf("%.2f", d.FinalScore)))
			if d.Rationale != "" {
				fmt.Fprintf(&b, "      %s\n", dimStyle.Render(d.Rationale))
			}
			if opts.Verbose {
				fmt.Fprintf(&b, "      %s\n", dimStyle.Render(d.URL))
				if len(d.Sources) > 0 {
					fmt.Fprintf(&b, "      %s\n", dimStyle.Render("via "+strings.Join(d.Sources, ", ")))
				}
			}
		}
	}

	if res != nil {
		b.WriteString(sectionStyle.Render("┃ Run") + "\n")
		fmt.Fprintf(&b, "%s%s\n", labelStyle.Render("  Stage: "), valueStyle.Render(string(res.Stage)))
		if res.NoveltyDropped > 0 || res.NoveltyRestored > 0 {
			fmt.Fprintf(&b, "%s%s %s\n", labelStyle.Render("  Novelty: "),
				valueStyle.Render(fmt.Sprintf("%d already seen", res.NoveltyDropped)),
				dimStyle.Render(fmt.Sprintf("(%d restored)", res.NoveltyRestored)))
		}
		if opts.Verbose {
			if timings := renderTimings(res.StageTimings); timings != "" {
				fmt.Fprintf(&b, "%s%s\n", labelStyle.Render("  Timings: "), timings)
			}
		}
		if len(res.Documents) > 1 {
			scores := make([]float64, len(res.Documents))
			for i, d := range res.Documents {
				scores[i] = d.FinalScore
			}
			fmt.Fprintf(&b, "%s\n%s\n", labelStyle.Render("  Scores:"), createSparkline(scores))
		}
	}

	if notes := renderNotes(res, runErr); notes != "" {
		b.WriteString(sectionStyle.Render("┃ Notes") + "\n")
		b.WriteString(notes)
	}

	return containerStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func renderTimings(timings map[pipeline.Stage]time.Duration) string {
	var parts []string
	for _, s := range pipeline.Stages() {
		if d, ok := timings[s]; ok {
			parts = append(parts, fmt.Sprintf("%s %s", s, valueStyle.Render(FormatDuration(d))))
		}
	}
	return strings.Join(parts, dimStyle.Render(" · "))
}

func renderNotes(res *pipeline.Result, runErr error) string {
	var b strings.Builder
	if runErr != nil {
		fmt.Fprintf(&b, "  %s\n", errorStyle.Render("✗ "+runErr.Error()))
	}
	if res == nil {
		return b.String()
	}
	for _, f := range res.ProviderErrors {
		fmt.Fprintf(&b, "  %s\n", errorStyle.Render(fmt.Sprintf("✗ %s %q: %s", f.Provider, f.Query, f.Error)))
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(&b, "  %s\n", warningStyle.Render("⚠ "+w))
	}
	for _, f := range res.Fallbacks {
		fmt.Fprintf(&b, "  %s\n", warningStyle.Render("⚠ fallback: "+f))
	}
	return b.String()
}
