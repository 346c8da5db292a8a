package cognitive

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nidhogg/nuka-mind/internal/memory"
)

const (
	// SnapshotLimit caps the System 1 context in characters.
	SnapshotLimit = 1200

	snapshotBeliefs   = 5
	snapshotSection   = 3
	staleAfter        = 7 * 24 * time.Hour
	snapshotEmptyLine = "  (none)"
)

// SnapshotSources are the read paths a snapshot is built from.
type SnapshotSources struct {
	Beliefs   BeliefSource
	Messages  MessageReader
	Proposals ProposalBoard
	Gaps      GapStore
}

// BuildSnapshot renders the compact agent context System 1 classifies.
// A failing section is reported inline; it never aborts the snapshot.
func BuildSnapshot(ctx context.Context, src SnapshotSources, agentID string, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Agent: %s\n", agentID)

	b.WriteString("\nBELIEFS (top 5 active):\n")
	beliefs, err := src.Beliefs.TopBeliefs(ctx, agentID, snapshotBeliefs)
	switch {
	case err != nil:
		fmt.Fprintf(&b, "  (belief read error: %v)\n", err)
	case len(beliefs) == 0:
		b.WriteString("  (no active beliefs)\n")
	default:
		for _, it := range beliefs {
			b.WriteString(beliefLine(it, now))
		}
	}

	b.WriteString("\nUNREAD MESSAGES:\n")
	msgs, err := src.Messages.ReadUnread(ctx, agentID, snapshotSection)
	switch {
	case err != nil:
		fmt.Fprintf(&b, "  (message read error: %v)\n", err)
	case len(msgs) == 0:
		b.WriteString(snapshotEmptyLine + "\n")
	default:
		for _, m := range msgs {
			fmt.Fprintf(&b, "  - from:%s %s\n", memory.Truncate(m.From, 20), memory.Truncate(oneLine(m.Content), 60))
		}
	}

	b.WriteString("\nOPEN PROPOSALS:\n")
	props, err := src.Proposals.OpenProposals(ctx, snapshotSection)
	switch {
	case err != nil:
		fmt.Fprintf(&b, "  (proposal read error: %v)\n", err)
	case len(props) == 0:
		b.WriteString(snapshotEmptyLine + "\n")
	default:
		for _, p := range props {
			line := fmt.Sprintf("  - %s (by %s)", memory.Truncate(p.Title, 60), memory.Truncate(p.Author, 15))
			if p.RequiresReview {
				line += " [NEEDS_REVIEW]"
			}
			b.WriteString(line + "\n")
		}
	}

	b.WriteString("\nKNOWLEDGE GAPS:\n")
	gaps, err := src.Gaps.OpenGaps(ctx, agentID, snapshotSection)
	switch {
	case err != nil:
		fmt.Fprintf(&b, "  (gap read error: %v)\n", err)
	case len(gaps) == 0:
		b.WriteString(snapshotEmptyLine + "\n")
	default:
		for _, g := range gaps {
			desc := strings.TrimSpace(g.Description)
			if desc == "" {
				desc = "(empty description)"
			}
			fmt.Fprintf(&b, "  - [%s,imp=%.0f] %s\n",
				memory.Truncate(strings.TrimSpace(g.Domain), 20), g.Importance, memory.Truncate(desc, 80))
		}
	}

	return memory.Truncate(b.String(), SnapshotLimit)
}

func beliefLine(it memory.Item, now time.Time) string {
	category := it.Category
	if category == "" {
		category = "fact"
	}
	var conf float64
	if it.Confidence != nil {
		conf = *it.Confidence
	}
	var flags []string
	if it.LowEvidence() {
		flags = append(flags, "LOW-EVIDENCE")
	}
	if it.Stale(now, staleAfter) {
		flags = append(flags, "STALE")
	}
	flag := ""
	if len(flags) > 0 {
		flag = " [" + strings.Join(flags, ",") + "]"
	}
	return fmt.Sprintf("  - [%s,conf%.2f]%s %s\n", category, conf, flag, memory.Truncate(oneLine(it.Content), 80))
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
