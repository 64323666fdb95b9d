package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	log "github.com/sirupsen/logrus"

	"github.com/openshift/sippy-chat/internal/cache"
	"github.com/openshift/sippy-chat/internal/llm"
)

const (
	defaultPathGlob  = "*build-log*"
	defaultTextRegex = "[Ee]rror|[Ff]ail"
	logSearchTimeout = 60 * time.Second
)

type logAnalyzerArgs struct {
	ProwJobRunID string `json:"prow_job_run_id"`
	PathGlob     string `json:"path_glob"`
	TextRegex    string `json:"text_regex"`
}

// LogAnalyzerTool searches job artifacts for lines matching a regex.
type LogAnalyzerTool struct {
	api   sippyAPI
	cache *cache.Results
}

func newLogAnalyzerTool(api sippyAPI, results *cache.Results) *LogAnalyzerTool {
	if results == nil {
		results = cache.New(0)
	}
	return &LogAnalyzerTool{api: api, cache: results}
}

func (t *LogAnalyzerTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        LogAnalyzerToolName,
		Description: "Get a JSON object with artifact search results for a given Prow job. Input: numeric job ID, optional path_glob and text_regex",
		Schema: objectSchema(props{
			"prow_job_run_id": jobIDProp,
			"path_glob": stringPropDefault(
				"Path glob pattern to match artifacts (e.g., '*build-log*', '*.log', '**/junit*.xml')", defaultPathGlob),
			"text_regex": stringPropDefault(
				"Regex pattern to search for in the artifacts (e.g., '[Ee]rror', 'timeout', 'panic')", defaultTextRegex),
		}, "prow_job_run_id"),
	}
}

func (t *LogAnalyzerTool) Preview(args json.RawMessage) string {
	var a logAnalyzerArgs
	if err := json.Unmarshal(args, &a); err != nil || a.ProwJobRunID == "" {
		return ""
	}
	if a.PathGlob == "" {
		a.PathGlob = defaultPathGlob
	}
	return fmt.Sprintf("%s %s", a.ProwJobRunID, a.PathGlob)
}

func (t *LogAnalyzerTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var a logAnalyzerArgs
	if err := decodeArgs(LogAnalyzerToolName, args, &a, "prow_job_run_id", "path_glob", "text_regex"); err != nil {
		return "", err
	}
	id, err := cleanJobID(a.ProwJobRunID)
	if err != nil {
		return "", err
	}
	if a.PathGlob == "" {
		a.PathGlob = defaultPathGlob
	}
	if a.TextRegex == "" {
		a.TextRegex = defaultTextRegex
	}
	if !doublestar.ValidatePattern(a.PathGlob) {
		return "", NewToolErrorf(ErrInvalidParams, "invalid path_glob %q", a.PathGlob)
	}
	if _, err := regexp.Compile(a.TextRegex); err != nil {
		return "", NewToolErrorf(ErrInvalidParams, "invalid text_regex %q: %v", a.TextRegex, err)
	}

	key := id + ":" + a.PathGlob + ":" + a.TextRegex
	if cached, ok := t.cache.Get(key); ok {
		log.WithField("key", key).Info("returning cached artifact search")
		return cached, nil
	}

	query := url.Values{
		"prowJobRuns": {id},
		"pathGlob":    {a.PathGlob},
		"textRegex":   {a.TextRegex},
	}
	var data any
	if err := t.api.fetch(ctx, "/api/jobs/artifacts", query, logSearchTimeout, &data); err != nil {
		return "", err
	}
	out, err := jsonResult(LogAnalyzerToolName, data)
	if err != nil {
		return "", err
	}
	t.cache.Set(key, out)
	return out, nil
}
