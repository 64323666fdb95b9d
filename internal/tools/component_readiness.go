package tools

import (
	"context"
	"encoding/json"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/openshift/sippy-chat/internal/llm"
)

const (
	testDetailsTimeout = 60 * time.Second
	maxFailedJobRuns   = 10
)

type testDetailsArgs struct {
	QueryParams string `json:"query_params"`
}

type testStats struct {
	SuccessCount int `json:"success_count"`
	FailureCount int `json:"failure_count"`
	FlakeCount   int `json:"flake_count"`
}

// status prefers failure over flake over success.
func (s testStats) status() string {
	switch {
	case s.FailureCount > 0:
		return "failed"
	case s.FlakeCount > 0:
		return "flaked"
	default:
		return "passed"
	}
}

type jobRunStats struct {
	JobURL    string     `json:"job_url"`
	JobRunID  string     `json:"job_run_id"`
	StartTime string     `json:"start_time"`
	TestStats *testStats `json:"test_stats"`
}

type testDetailsResponse struct {
	Code        int             `json:"code"`
	Message     string          `json:"message"`
	TestName    json.RawMessage `json:"test_name"`
	TestID      json.RawMessage `json:"test_id"`
	Component   json.RawMessage `json:"component"`
	Capability  json.RawMessage `json:"capability"`
	Environment json.RawMessage `json:"environment"`
	GeneratedAt json.RawMessage `json:"generated_at"`
	Analyses    []struct {
		Status       json.RawMessage `json:"status"`
		Explanations []string        `json:"explanations"`
		SampleStats  json.RawMessage `json:"sample_stats"`
		BaseStats    json.RawMessage `json:"base_stats"`
		Triages      []any           `json:"triages"`
		Regression   *struct {
			ID     json.RawMessage `json:"id"`
			Opened json.RawMessage `json:"opened"`
			Closed struct {
				Time  json.RawMessage `json:"time"`
				Valid bool            `json:"valid"`
			} `json:"closed"`
		} `json:"regression"`
		JobStats []struct {
			SampleJobName     string        `json:"sample_job_name"`
			SampleJobRunStats []jobRunStats `json:"sample_job_run_stats"`
		} `json:"job_stats"`
	} `json:"analyses"`
}

type jobRunSummary struct {
	JobURL    string `json:"job_url"`
	JobRunID  string `json:"job_run_id"`
	StartTime string `json:"start_time"`
	Status    string `json:"status"`
}

type regressionSummary struct {
	ID     json.RawMessage `json:"id"`
	Opened json.RawMessage `json:"opened"`
	Closed json.RawMessage `json:"closed"`
}

type testDetailsReport struct {
	TestName        json.RawMessage            `json:"test_name"`
	TestID          json.RawMessage            `json:"test_id"`
	Component       json.RawMessage            `json:"component"`
	Capability      json.RawMessage            `json:"capability"`
	Environment     json.RawMessage            `json:"environment"`
	Regression      *regressionSummary         `json:"regression"`
	Status          json.RawMessage            `json:"status"`
	Explanations    []string                   `json:"explanations"`
	SampleStats     json.RawMessage            `json:"sample_stats"`
	BaseStats       json.RawMessage            `json:"base_stats"`
	FailedJobRunIDs []string                   `json:"failed_job_run_ids"`
	JobStats        map[string][]jobRunSummary `json:"job_stats"`
	TriagesCount    int                        `json:"triages_count"`
	GeneratedAt     json.RawMessage            `json:"generated_at"`
}

// TestDetailsTool summarizes a component readiness test details report.
type TestDetailsTool struct {
	api sippyAPI
}

func newTestDetailsTool(api sippyAPI) *TestDetailsTool {
	return &TestDetailsTool{api: api}
}

func (t *TestDetailsTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name: TestDetailsToolName,
		Description: "Get a test details report from Sippy API including regression analysis and statistics.\n\n" +
			"This tool provides:\n- Regression status and history\n- Sample vs base statistics comparison\n" +
			"- Job stats for each job name that matched the variants in the report\n" +
			"  - Simplified job run data with job_url, job_run_id, start_time, and status (passed/failed/flaked)\n" +
			"  - " + JobSummaryToolName + " can be used to dig deeper into specific job runs by job run ID\n" +
			"- Triage information\n- Pass rate changes\n\n" +
			"Input: query_params (the query parameters for the test details endpoint, e.g., testId=12345&component=...&baseRelease=...)",
		Schema: objectSchema(props{
			"query_params": stringProp("Query parameters for the test details endpoint. Can be either just the query params " +
				"(e.g., testId=12345&component=foo) or a full URL (the query params will be extracted)"),
		}, "query_params"),
	}
}

func (t *TestDetailsTool) Preview(args json.RawMessage) string {
	var a testDetailsArgs
	_ = json.Unmarshal(args, &a)
	q, err := testDetailsQuery(a.QueryParams)
	if err != nil {
		return ""
	}
	return q.Get("testId")
}

// testDetailsQuery accepts bare query parameters or a URL carrying them.
func testDetailsQuery(raw string) (url.Values, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "http") || strings.HasPrefix(raw, "/") {
		i := strings.Index(raw, "?")
		if i < 0 {
			return nil, NewToolErrorf(ErrInvalidParams, "No query parameters found in URL: %s", raw)
		}
		raw = raw[i+1:]
	}
	raw = strings.TrimLeft(raw, "?&")
	q, err := url.ParseQuery(raw)
	if err != nil {
		return nil, NewToolErrorf(ErrInvalidParams, "invalid query_params: %v", err)
	}
	if len(q) == 0 {
		return nil, NewToolError(ErrInvalidParams, "query_params is required")
	}
	return q, nil
}

func (t *TestDetailsTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var a testDetailsArgs
	if err := decodeArgs(TestDetailsToolName, args, &a, "query_params"); err != nil {
		return "", err
	}
	query, err := testDetailsQuery(a.QueryParams)
	if err != nil {
		return "", err
	}

	var data testDetailsResponse
	if err := t.api.fetch(ctx, "/api/component_readiness/test_details", query, testDetailsTimeout, &data); err != nil {
		return "", err
	}
	if data.Code != 0 && (data.Code < 200 || data.Code >= 300) {
		msg := data.Message
		if msg == "" {
			msg = "Unknown error"
		}
		return "", NewToolErrorf(ErrUpstream, "API returned error code %d: %s", data.Code, msg)
	}
	if len(data.Analyses) == 0 {
		return "", NewToolError(ErrNotFound, "No analysis data found in response")
	}
	return jsonResult(TestDetailsToolName, summarizeTestDetails(data))
}

func summarizeTestDetails(data testDetailsResponse) testDetailsReport {
	first := data.Analyses[0]
	report := testDetailsReport{
		TestName:        data.TestName,
		TestID:          data.TestID,
		Component:       data.Component,
		Capability:      data.Capability,
		Environment:     data.Environment,
		Status:          first.Status,
		Explanations:    first.Explanations,
		SampleStats:     first.SampleStats,
		BaseStats:       first.BaseStats,
		FailedJobRunIDs: []string{},
		JobStats:        make(map[string][]jobRunSummary),
		TriagesCount:    len(first.Triages),
		GeneratedAt:     data.GeneratedAt,
	}
	if report.Explanations == nil {
		report.Explanations = []string{}
	}
	if r := first.Regression; r != nil {
		report.Regression = &regressionSummary{ID: r.ID, Opened: r.Opened, Closed: json.RawMessage("null")}
		if r.Closed.Valid && len(r.Closed.Time) > 0 {
			report.Regression.Closed = r.Closed.Time
		}
	}

	for _, js := range first.JobStats {
		for _, run := range js.SampleJobRunStats {
			if len(report.FailedJobRunIDs) >= maxFailedJobRuns {
				break
			}
			if run.TestStats != nil && run.TestStats.FailureCount > 0 && run.JobRunID != "" {
				report.FailedJobRunIDs = append(report.FailedJobRunIDs, run.JobRunID)
			}
		}
		if js.SampleJobName == "" || len(js.SampleJobRunStats) == 0 {
			continue
		}
		runs := make([]jobRunSummary, 0, len(js.SampleJobRunStats))
		for _, run := range js.SampleJobRunStats {
			var stats testStats
			if run.TestStats != nil {
				stats = *run.TestStats
			}
			runs = append(runs, jobRunSummary{
				JobURL:    run.JobURL,
				JobRunID:  run.JobRunID,
				StartTime: run.StartTime,
				Status:    stats.status(),
			})
		}
		report.JobStats[js.SampleJobName] = runs
	}
	return report
}

type triageMatchesArgs struct {
	TriageID json.Number `json:"triage_id"`
	View     string      `json:"view"`
}

// TriagePotentialMatchTool lists regressions that may belong to a triage.
type TriagePotentialMatchTool struct {
	api sippyAPI
}

func newTriagePotentialMatchTool(api sippyAPI) *TriagePotentialMatchTool {
	return &TriagePotentialMatchTool{api: api}
}

func (t *TriagePotentialMatchTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name: TriagePotentialMatchToolName,
		Description: "Get potential matching regressions for a triage record.\n\n" +
			"This tool returns a list of tests that might belong to the same triage based on:\n" +
			"- Similar test names (edit distance scoring)\n- Same last failure times (tests that fail in the same job runs)\n" +
			"It includes a Confidence level (1-10, higher is better)\n\n" +
			"Each potential match includes a test_details_api_url that you can use with the " + TestDetailsToolName +
			" tool to analyze the test's failure patterns and compare them with existing triaged tests.\n\n" +
			"Input: triage_id (the triage ID) and view (the component readiness view, e.g., '4.20-main')",
		Schema: objectSchema(props{
			"triage_id": map[string]interface{}{"type": "integer", "description": "The triage ID to find potential matches for"},
			"view":      stringProp("The component readiness view (e.g., '4.20-main')"),
		}, "triage_id", "view"),
	}
}

func (t *TriagePotentialMatchTool) Preview(args json.RawMessage) string {
	var a triageMatchesArgs
	_ = json.Unmarshal(args, &a)
	return strings.TrimSpace(a.TriageID.String() + " " + a.View)
}

func (t *TriagePotentialMatchTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var a triageMatchesArgs
	if err := decodeArgs(TriagePotentialMatchToolName, args, &a, "triage_id", "view"); err != nil {
		return "", err
	}
	id, err := strconv.Atoi(a.TriageID.String())
	if err != nil || id <= 0 {
		return "", NewToolErrorf(ErrInvalidParams, "triage_id must be a positive integer, got %q", a.TriageID.String())
	}
	if a.View == "" {
		return "", NewToolError(ErrInvalidParams, "view is required")
	}

	var matches []map[string]any
	path := "/api/component_readiness/triages/" + strconv.Itoa(id) + "/matches"
	if err := t.api.fetch(ctx, path, url.Values{"view": {a.View}}, 0, &matches); err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return jsonResult(TriagePotentialMatchToolName, map[string]any{
			"message":           "No potential matches found for triage " + strconv.Itoa(id) + " in view '" + a.View + "'",
			"potential_matches": []any{},
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return confidence(matches[i]) > confidence(matches[j])
	})
	return jsonResult(TriagePotentialMatchToolName, map[string]any{
		"triage_id":               id,
		"view":                    a.View,
		"potential_matches_count": len(matches),
		"potential_matches":       matches,
	})
}

func confidence(m map[string]any) float64 {
	v, _ := m["confidence_level"].(float64)
	return v
}
