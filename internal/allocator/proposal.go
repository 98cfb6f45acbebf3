package allocator

import (
	"fmt"
	"strings"
	"time"

	"TreasurySentinel/internal/model"

	"github.com/dustin/go-humanize"
)

// FormatUSD renders an amount with thousands separators and two decimals.
func FormatUSD(v float64) string {
	return "$" + humanize.FormatFloat("#,###.##", v)
}

// FormatRunway renders a runway in months.
func FormatRunway(r model.Months) string {
	if r.IsUnlimited() {
		return "unlimited"
	}
	return fmt.Sprintf("%.1f months", float64(r))
}

// GenerateProposalText renders a deterministic Markdown proposal.
func GenerateProposalText(actions []model.AllocationAction, metrics model.TreasuryMetrics) string {
	var b strings.Builder
	b.WriteString("# Treasury Rebalancing Proposal\n\n")
	b.WriteString("## Current Status\n")
	b.WriteString(fmt.Sprintf("- TVL: %s\n", FormatUSD(metrics.TVL)))
	b.WriteString(fmt.Sprintf("- Stablecoins: %.1f%%\n", metrics.StablesRatio*100))
	b.WriteString(fmt.Sprintf("- Runway: %s\n\n", FormatRunway(metrics.Runway)))
	b.WriteString("## Proposed Actions\n")

	if len(actions) == 0 {
		b.WriteString("No rebalancing actions required.\n")
		return b.String()
	}
	for i, a := range actions {
		b.WriteString(fmt.Sprintf("%d. Swap %s of %s → %s\n", i+1, FormatUSD(a.AmountUSD), a.FromToken, a.ToToken))
		b.WriteString(fmt.Sprintf("   Reason: %s\n\n", a.Reason))
	}
	return b.String()
}

// ProposalMetadata travels with a governance proposal document.
type ProposalMetadata struct {
	GeneratedAt int64                  `json:"generatedAt"`
	Metrics     model.TreasuryMetrics  `json:"metrics"`
	Policy      model.AllocationPolicy `json:"policy"`
}

// Proposal is the JSON document handed to multisig tooling. This module never submits it.
type Proposal struct {
	Title       string                   `json:"title"`
	Description string                   `json:"description"`
	Actions     []model.AllocationAction `json:"actions"`
	Metadata    ProposalMetadata         `json:"metadata"`
}

// BuildProposal assembles the governance proposal document.
func BuildProposal(actions []model.AllocationAction, metrics model.TreasuryMetrics, policy model.AllocationPolicy, now time.Time) Proposal {
	return Proposal{
		Title:       "Treasury Rebalancing Proposal",
		Description: GenerateProposalText(actions, metrics),
		Actions:     actions,
		Metadata: ProposalMetadata{
			GeneratedAt: now.UnixMilli(),
			Metrics:     metrics,
			Policy:      policy,
		},
	}
}
