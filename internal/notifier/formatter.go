package notifier

import (
	"fmt"
	"html"
	"strings"
	"time"

	"TreasurySentinel/internal/allocator"
	"TreasurySentinel/internal/model"
	"TreasurySentinel/internal/recorder"

	"github.com/dustin/go-humanize"
)

// FormatRiskReport formats a risk assessment into a Telegram message.
func FormatRiskReport(a *model.RiskAssessment, now time.Time) string {
	m := a.Metrics
	var b strings.Builder

	b.WriteString(fmt.Sprintf("🛡 <b>TreasurySentinel Risk Report</b> | %s\n\n", now.Format("2006-01-02 15:04")))
	b.WriteString(fmt.Sprintf("TVL: %s\n", allocator.FormatUSD(m.TVL)))
	b.WriteString(fmt.Sprintf("Stables Ratio: %.1f%%\n", m.StablesRatio*100))
	b.WriteString(fmt.Sprintf("Concentration Risk: %.1f%%\n", m.ConcentrationRisk*100))
	b.WriteString(fmt.Sprintf("Runway: %s\n", allocator.FormatRunway(m.Runway)))
	b.WriteString(fmt.Sprintf("Risk Score: %.1f/100\n\n", m.RiskScore*100))

	if len(a.Factors) > 0 {
		b.WriteString("📈 <b>Factors:</b>\n")
		for _, f := range a.Factors {
			b.WriteString(fmt.Sprintf("  %s (%s): %.2f (×%.2f) = %.3f\n",
				f.Name, html.EscapeString(f.Commentary), f.RawScore, f.Weight, f.Weighted))
		}
		b.WriteString("\n")
	}

	if a.Breached {
		b.WriteString("⚠️ <b>THRESHOLD BREACH DETECTED</b> - requesting rebalance plan\n")
	} else {
		b.WriteString("✅ All metrics within acceptable range\n")
	}
	return b.String()
}

// FormatProposal wraps the proposal text and its summary for Telegram.
func FormatProposal(resp *model.RebalanceResponse) string {
	var b strings.Builder
	b.WriteString("📝 <b>Rebalancing Proposal</b>\n\n")
	b.WriteString(fmt.Sprintf("Stables: %.1f%% → %.1f%% (target %.1f%%)\n",
		resp.Summary.CurrentStablesRatio*100, resp.Summary.ProjectedStablesRatio*100, resp.Summary.TargetStablesRatio*100))
	b.WriteString(fmt.Sprintf("Moved: %s in %d action(s)\n\n", allocator.FormatUSD(resp.Summary.TotalMovedUSD), len(resp.Actions)))
	b.WriteString("<pre>")
	b.WriteString(html.EscapeString(resp.Proposal))
	b.WriteString("</pre>")
	return b.String()
}

// FormatCycleFailure reports a cycle that did not complete.
func FormatCycleFailure(stage string, err error) string {
	return fmt.Sprintf("❌ <b>Treasury analysis failed</b> (%s)\n\n%s", stage, html.EscapeString(err.Error()))
}

// FormatHistory lists recent cycles, newest first.
func FormatHistory(cycles []recorder.CycleSummary, now time.Time) string {
	if len(cycles) == 0 {
		return "📦 No analysis cycles recorded yet."
	}
	var b strings.Builder
	b.WriteString("📦 <b>Recent cycles</b>\n\n")
	for _, c := range cycles {
		b.WriteString(fmt.Sprintf("• %s %s | TVL %s | stables %.1f%% | risk %.0f/100",
			humanize.RelTime(c.Timestamp, now, "ago", "from now"), c.Outcome,
			allocator.FormatUSD(c.TVL), c.StablesRatio*100, c.RiskScore*100))
		if c.Actions > 0 {
			b.WriteString(fmt.Sprintf(" | %d action(s)", c.Actions))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// HelpText lists the supported commands.
func HelpText() string {
	return "Available commands:\n• /analyze - run a treasury analysis now\n• /status - recent analysis cycles\n• /help - this message"
}
