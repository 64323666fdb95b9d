// Package correlate turns the engine's event feed into numbered thinking
// steps and a final answer.
//
// The engine reports tool calls when a model turn finishes and tool results
// as each tool completes, in whatever order the tools finish. A Correlator
// assigns step numbers at request time, in the order the model emitted the
// calls, and reuses them when the matching results arrive.
package correlate

import (
	"strings"

	"github.com/openshift/sippy-chat/internal/llm"
)

// ActionThinking is the pseudo-action of a freeform reasoning step.
const ActionThinking = "thinking"

// FallbackAnswer is the final text when the model produced none.
const FallbackAnswer = "I apologize, but I couldn't generate a response."

// Step is one thought/action/input/observation record.
type Step struct {
	Number      int    `json:"step_number"`
	Thought     string `json:"thought"`
	Action      string `json:"action"`
	ActionInput string `json:"action_input"`
	Observation string `json:"observation"`
	Complete    bool   `json:"complete"`
}

// invocation is a tool call waiting for its result.
type invocation struct {
	step Step
	id   string
}

// Correlator holds the correlation state of a single turn. It is not safe
// for concurrent use and must not be reused across turns.
type Correlator struct {
	showThinking bool

	counter int
	byID    map[string]*invocation
	byName  map[string][]*invocation
	pending int

	steps     []Step
	thoughts  []string
	toolsUsed []string
	seenTools map[string]bool

	answer     string
	commentary string
	truncated  bool
}

// New returns an empty Correlator. When showThinking is false reasoning
// blocks are kept for Thoughts but produce no steps.
func New(showThinking bool) *Correlator {
	return &Correlator{
		showThinking: showThinking,
		byID:         make(map[string]*invocation),
		byName:       make(map[string][]*invocation),
		seenTools:    make(map[string]bool),
	}
}

// Consume folds one event into the state and returns the step updates it
// produced, in the order they should be delivered.
func (c *Correlator) Consume(ev llm.Event) []Step {
	switch ev.Type {
	case llm.EventReasoning:
		return c.reasoning(ev.Text)
	case llm.EventTurnFinished:
		return c.turnFinished(ev)
	case llm.EventToolExecEnd:
		return c.toolFinished(ev)
	case llm.EventDone:
		if ev.StopReason == llm.StopReasonMaxIterations {
			c.truncated = true
		}
	}
	return nil
}

func (c *Correlator) reasoning(text string) []Step {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	c.thoughts = append(c.thoughts, text)
	if !c.showThinking {
		return nil
	}
	c.counter++
	step := Step{Number: c.counter, Thought: text, Action: ActionThinking, Complete: true}
	c.steps = append(c.steps, step)
	return []Step{step}
}

func (c *Correlator) turnFinished(ev llm.Event) []Step {
	text := strings.TrimSpace(ev.Text)
	if len(ev.Calls) == 0 {
		if text != "" {
			c.answer = text
		}
		return nil
	}
	if text != "" {
		c.commentary = text
	}

	out := make([]Step, 0, len(ev.Calls))
	for _, call := range ev.Calls {
		c.counter++
		inv := &invocation{
			id: call.ID,
			step: Step{
				Number:      c.counter,
				Thought:     "Using tool: " + call.Name,
				Action:      call.Name,
				ActionInput: actionInput(call.Arguments),
			},
		}
		if inv.id != "" {
			if _, taken := c.byID[inv.id]; taken {
				// The identifier already belongs to a pending call, so this
				// one can only be matched by name.
				inv.id = ""
			} else {
				c.byID[inv.id] = inv
			}
		}
		c.byName[call.Name] = append(c.byName[call.Name], inv)
		c.pending++

		if !c.seenTools[call.Name] {
			c.seenTools[call.Name] = true
			c.toolsUsed = append(c.toolsUsed, call.Name)
		}
		out = append(out, inv.step)
	}
	return out
}

func (c *Correlator) toolFinished(ev llm.Event) []Step {
	inv := c.match(ev.ToolCallID, ev.ToolName)
	if inv == nil {
		return nil
	}
	c.pending--

	step := inv.step
	step.Observation = ev.ToolOutput
	step.Complete = true
	c.steps = append(c.steps, step)
	return []Step{step}
}

// match resolves a result to its invocation by identifier, falling back to
// the oldest unmatched call with the same tool name. A matched invocation
// is removed from both indexes.
func (c *Correlator) match(id, name string) *invocation {
	var inv *invocation
	if id != "" {
		inv = c.byID[id]
	}
	if inv == nil {
		if queue := c.byName[name]; len(queue) > 0 {
			inv = queue[0]
		}
	}
	if inv == nil {
		return nil
	}

	if inv.id != "" {
		delete(c.byID, inv.id)
	}
	queue := c.byName[inv.step.Action]
	for i, candidate := range queue {
		if candidate == inv {
			queue = append(queue[:i], queue[i+1:]...)
			break
		}
	}
	if len(queue) == 0 {
		delete(c.byName, inv.step.Action)
	} else {
		c.byName[inv.step.Action] = queue
	}
	return inv
}

// Pending reports how many tool calls still wait for a result.
func (c *Correlator) Pending() int {
	return c.pending
}

// Truncated reports whether the feed ended at the iteration ceiling.
func (c *Correlator) Truncated() bool {
	return c.truncated
}

// ToolsUsed returns the distinct tool names in first-request order.
func (c *Correlator) ToolsUsed() []string {
	return append([]string(nil), c.toolsUsed...)
}

// Thoughts returns every reasoning block seen, in arrival order.
func (c *Correlator) Thoughts() []string {
	return append([]string(nil), c.thoughts...)
}

// Finalize returns the finalized steps in completion order and the answer.
// Tool-free text from the latest turn wins. Text the model wrote alongside
// tool calls is used only when no turn produced tool-free text.
func (c *Correlator) Finalize() ([]Step, string) {
	steps := append([]Step(nil), c.steps...)
	switch {
	case c.answer != "":
		return steps, c.answer
	case c.commentary != "":
		return steps, c.commentary
	default:
		return steps, FallbackAnswer
	}
}

func actionInput(args []byte) string {
	s := strings.TrimSpace(string(args))
	if s == "" || s == "null" {
		return "{}"
	}
	return s
}
