package ui

import (
	"fmt"
	"strings"

	"github.com/openshift/sippy-chat/internal/correlate"
)

const maxObservationPreview = 300

// FormatStep renders one step update as a single line, or two when an
// observation is attached.
func (s *Styles) FormatStep(step correlate.Step) string {
	num := s.Step.Render(fmt.Sprintf("[%d]", step.Number))
	if step.Action == correlate.ActionThinking {
		return fmt.Sprintf("%s %s", num, s.Thought.Render(oneLine(step.Thought, 400)))
	}

	if !step.Complete {
		line := fmt.Sprintf("%s %s %s", num, s.Muted.Render(PendingIcon), s.Tool.Render(step.Action))
		if step.ActionInput != "" && step.ActionInput != "{}" {
			line += " " + s.Muted.Render(oneLine(step.ActionInput, 120))
		}
		return line
	}

	icon := s.Success.Render(SuccessIcon)
	if strings.HasPrefix(strings.TrimSpace(step.Observation), `{"error"`) {
		icon = s.Error.Render(FailIcon)
	}
	line := fmt.Sprintf("%s %s %s", num, icon, s.Tool.Render(step.Action))
	if obs := oneLine(step.Observation, maxObservationPreview); obs != "" {
		line += "\n    " + s.Muted.Render(obs)
	}
	return line
}

// oneLine collapses whitespace and cuts s to at most n runes.
func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
