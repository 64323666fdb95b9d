package agent

import (
	"encoding/json"
	"regexp"
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	vizStart     = "VISUALIZATION_START"
	vizEnd       = "VISUALIZATION_END"
	vizTopMargin = 80
)

var vizBlock = regexp.MustCompile(`VISUALIZATION_START[\s\S]*?VISUALIZATION_END`)

// Visualization is a plotly figure the model embedded in its answer.
type Visualization struct {
	Data   any            `json:"data"`
	Layout map[string]any `json:"layout"`
	Config any            `json:"config,omitempty"`
}

// ExtractVisualizations parses every marked figure in text and returns them
// together with text stripped of the blocks. Blocks that fail to parse are
// dropped from the text but not returned.
func ExtractVisualizations(text string) ([]Visualization, string) {
	var out []Visualization
	pos := 0
	for {
		start := strings.Index(text[pos:], vizStart)
		if start < 0 {
			break
		}
		start += pos
		end := strings.Index(text[start:], vizEnd)
		if end < 0 {
			log.Warn("visualization start marker without end marker")
			break
		}
		end += start

		body := strings.TrimSpace(text[start+len(vizStart) : end])
		if viz, err := parseVisualization(body); err != nil {
			log.WithError(err).Warn("failed to parse visualization")
		} else {
			out = append(out, viz)
		}
		pos = end + len(vizEnd)
	}
	if len(out) == 0 && !strings.Contains(text, vizStart) {
		return nil, text
	}
	return out, strings.TrimSpace(vizBlock.ReplaceAllString(text, ""))
}

func parseVisualization(body string) (Visualization, error) {
	var raw struct {
		Data   any            `json:"data"`
		Layout map[string]any `json:"layout"`
		Config any            `json:"config"`
	}
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return Visualization{}, err
	}
	if raw.Data == nil {
		raw.Data = []any{}
	}
	layout := raw.Layout
	if layout == nil {
		layout = map[string]any{}
	}

	margin, _ := layout["margin"].(map[string]any)
	if margin == nil {
		margin = map[string]any{}
	}
	if top, ok := margin["t"].(float64); !ok || top < vizTopMargin {
		margin["t"] = vizTopMargin
	}
	layout["margin"] = margin

	annotations, _ := layout["annotations"].([]any)
	layout["annotations"] = append(annotations, map[string]any{
		"text":      "<i>Generated with AI by Sippy Chat</i>",
		"xref":      "paper",
		"yref":      "paper",
		"x":         0.5,
		"y":         1.0,
		"xanchor":   "center",
		"yanchor":   "bottom",
		"showarrow": false,
		"font":      map[string]any{"size": 10, "color": "#666666"},
	})

	return Visualization{Data: raw.Data, Layout: layout, Config: raw.Config}, nil
}
