package activities

import (
	"context"
	"fmt"
	"strings"

	"github.com/marketscope/dispatch/internal/agents"
)

// SynthesizeResults merges per-step results into a composite with one
// labeled section per plan step, in plan order. Failed steps keep their
// section with a "no data available" message so the reader sees which
// market came up empty. Overall success means at least one section
// succeeded. The merge is purely positional and deterministic.
func (a *Activities) SynthesizeResults(ctx context.Context, in SynthesisInput) (SynthesisResult, error) {
	out := SynthesisResult{Sections: make([]Section, 0, len(in.Tasks))}

	var summaryParts []string
	for i, task := range in.Tasks {
		label := a.sectionLabel(task, in.MarketLabels)

		var res agents.AgentResult
		if i < len(in.Results) {
			res = in.Results[i]
		}

		section := Section{
			MarketLabel: label,
			AgentID:     task.TargetAgentID,
			Success:     res.Success,
			Quality:     string(res.Quality),
		}
		if res.Success {
			section.Message = res.Message
			section.StructuredData = res.StructuredData
			out.OverallSuccess = true
		} else {
			section.Message = noDataMessage(label, task.CanonicalID)
			if res.Quality == "" {
				section.Quality = string(agents.QualityFail)
			}
		}
		out.Sections = append(out.Sections, section)
		summaryParts = append(summaryParts, label+": "+section.Message)
	}

	out.Summary = strings.Join(summaryParts, "\n")
	return out, nil
}

func (a *Activities) sectionLabel(task agents.SubTask, labels map[string]string) string {
	if label, ok := labels[task.Market]; ok && label != "" {
		return label
	}
	if task.Market != "" {
		return a.binding(task.Market).DisplayName
	}
	return task.TargetAgentID
}

func noDataMessage(label, canonicalID string) string {
	if canonicalID == "" {
		return fmt.Sprintf("no data available from %s", label)
	}
	return fmt.Sprintf("no data available for %s from %s", canonicalID, label)
}
