package tools

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/openshift/sippy-chat/internal/llm"
)

type jobRunArgs struct {
	ProwJobRunID string `json:"prow_job_run_id"`
}

func previewJobRun(args json.RawMessage) string {
	var a jobRunArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return ""
	}
	return a.ProwJobRunID
}

// JobSummaryTool fetches the Sippy summary of one prow job run.
type JobSummaryTool struct {
	api sippyAPI
}

func newJobSummaryTool(api sippyAPI) *JobSummaryTool {
	return &JobSummaryTool{api: api}
}

func (t *JobSummaryTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name: JobSummaryToolName,
		Description: "Get a JSON object with a summary of a Prow job run including its URL, TestGrid link, " +
			"and test failures. Contains all basic job information. Input: just the numeric job ID (e.g., 1934795512955801600)",
		Schema: objectSchema(props{"prow_job_run_id": jobIDProp}, "prow_job_run_id"),
	}
}

func (t *JobSummaryTool) Preview(args json.RawMessage) string {
	return previewJobRun(args)
}

func (t *JobSummaryTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	return jobRunLookup(ctx, t.api, JobSummaryToolName, "/api/job/run/summary", args)
}

// JobPayloadTool fetches the payload a prow job run tested.
type JobPayloadTool struct {
	api sippyAPI
}

func newJobPayloadTool(api sippyAPI) *JobPayloadTool {
	return &JobPayloadTool{api: api}
}

func (t *JobPayloadTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name: JobPayloadToolName,
		Description: "Get payload information for a Prow job run including the payload tag (may be null) and job name. " +
			"Useful to find which changes were in the payload where a problem first appeared. Input: just the numeric job ID (e.g., 1934795512955801600)",
		Schema: objectSchema(props{"prow_job_run_id": jobIDProp}, "prow_job_run_id"),
	}
}

func (t *JobPayloadTool) Preview(args json.RawMessage) string {
	return previewJobRun(args)
}

func (t *JobPayloadTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	return jobRunLookup(ctx, t.api, JobPayloadToolName, "/api/job/run/payload", args)
}

func jobRunLookup(ctx context.Context, api sippyAPI, name, path string, args json.RawMessage) (string, error) {
	var a jobRunArgs
	if err := decodeArgs(name, args, &a, "prow_job_run_id"); err != nil {
		return "", err
	}
	id, err := cleanJobID(a.ProwJobRunID)
	if err != nil {
		return "", err
	}
	var data any
	if err := api.fetch(ctx, path, url.Values{"prow_job_run_id": {id}}, 0, &data); err != nil {
		return "", err
	}
	return jsonResult(name, data)
}
