package tools

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/openshift/sippy-chat/internal/llm"
)

const aggregatedJUnitGlob = "artifacts/**/junit-aggregated.xml"

// artifactSearch is the subset of /api/jobs/artifacts this package reads.
type artifactSearch struct {
	JobRuns []struct {
		Artifacts []struct {
			ArtifactURL string `json:"artifact_url"`
		} `json:"artifacts"`
	} `json:"job_runs"`
}

// AggregatedResultsTool finds the aggregated JUnit file of an aggregated job.
type AggregatedResultsTool struct {
	api sippyAPI
}

func newAggregatedResultsTool(api sippyAPI) *AggregatedResultsTool {
	return &AggregatedResultsTool{api: api}
}

func (t *AggregatedResultsTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name: AggregatedResultsToolName,
		Description: "Get a JSON object with the direct URL to aggregated test results (in JUnit XML format) for detailed analysis " +
			"of aggregated Prow jobs. Only use this when specifically asked for detailed aggregated job analysis. Input: numeric job ID only.",
		Schema: objectSchema(props{"prow_job_run_id": jobIDProp}, "prow_job_run_id"),
	}
}

func (t *AggregatedResultsTool) Preview(args json.RawMessage) string {
	return previewJobRun(args)
}

func (t *AggregatedResultsTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var a jobRunArgs
	if err := decodeArgs(AggregatedResultsToolName, args, &a, "prow_job_run_id"); err != nil {
		return "", err
	}
	id, err := cleanJobID(a.ProwJobRunID)
	if err != nil {
		return "", err
	}

	var data artifactSearch
	query := url.Values{"prowJobRuns": {id}, "pathGlob": {aggregatedJUnitGlob}}
	if err := t.api.fetch(ctx, "/api/jobs/artifacts", query, 0, &data); err != nil {
		return "", err
	}
	if len(data.JobRuns) == 0 {
		return "", NewToolError(ErrNotFound, "No job runs found in the response.")
	}
	artifacts := data.JobRuns[0].Artifacts
	if len(artifacts) == 0 {
		return "", NewToolError(ErrNotFound, "No junit-aggregated.xml artifacts found for this job. "+
			"This may not be an aggregated job or the artifacts may not be available yet.")
	}
	if artifacts[0].ArtifactURL == "" {
		return "", NewToolError(ErrInvalidOutput, "No artifact URL found in the response.")
	}
	return jsonResult(AggregatedResultsToolName, map[string]string{
		"aggregated_junit_xml_url": artifacts[0].ArtifactURL,
		"next_step":                "Use the " + JUnitParserToolName + " tool with the returned URL to analyze the aggregated test results.",
	})
}
