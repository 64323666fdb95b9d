package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const standardJUnit = `<?xml version="1.0" encoding="UTF-8"?>
<testsuites>
  <testsuite name="openshift-tests" tests="5">
    <testcase name="passes" classname="e2e" time="1.5"/>
    <testcase name="[sig-network] flaky" classname="e2e" time="2">
      <failure message="timeout">connection refused</failure>
    </testcase>
    <testcase name="[sig-network] flaky" classname="e2e" time="3"/>
    <testcase name="install should succeed" time="10">
      <error message="bootstrap failed"/>
      <system-out>see job_id: 1934795512955801600</system-out>
    </testcase>
    <testcase name="skipped" classname="e2e"><skipped message="not applicable"/></testcase>
  </testsuite>
</testsuites>`

const aggregatedJUnit = `<testsuite name="aggregated">
  <testcase name="[sig-storage] aggregated test">
    <failure message="Failed: Passed 3 times, failed 7 times"/>
    <system-out>
passes:
  - jobrunid: "111"
    humanurl: https://prow.ci.openshift.org/view/gs/test-platform-results/logs/job/1111111111
failures:
  - jobrunid: "222"
summary: Passed 3 times, failed 7 times
    </system-out>
  </testcase>
  <testcase name="passing aggregated">
    <system-out>passes: []</system-out>
  </testcase>
</testsuite>`

func TestParseStandardJUnit(t *testing.T) {
	report, err := parseJUnit("https://gcs/junit.xml", []byte(standardJUnit))
	if err != nil {
		t.Fatal(err)
	}
	if report.Summary["type"] != "standard" || report.Summary["total_tests"] != 5 || report.Summary["failure_and_flake_count"] != 2 {
		t.Fatalf("summary = %v", report.Summary)
	}
	results := report.Results.([]TestResult)
	flake := results[0]
	if flake.Status != "flake" || flake.FullName != "e2e.[sig-network] flaky" || flake.SuccessCount != 1 || flake.FailureCount != 1 {
		t.Fatalf("flake = %+v", flake)
	}
	if flake.Duration != 5 || !strings.HasPrefix(flake.Output, "Run 1 (failure):\nconnection refused\n\nRun 2 (success):") {
		t.Fatalf("flake = %+v", flake)
	}
	failure := results[1]
	if failure.Status != "failure" || failure.FullName != "install should succeed" {
		t.Fatalf("failure = %+v", failure)
	}
	if failure.Output != "bootstrap failed\n\nSTDOUT:\nsee job_id: 1934795512955801600" {
		t.Fatalf("failure output = %q", failure.Output)
	}
	if len(report.UnderlyingJobs) != 1 || report.UnderlyingJobs[0].JobID != "1934795512955801600" {
		t.Fatalf("underlying jobs = %+v", report.UnderlyingJobs)
	}
}

func TestParseAggregatedJUnit(t *testing.T) {
	report, err := parseJUnit("src", []byte(aggregatedJUnit))
	if err != nil {
		t.Fatal(err)
	}
	if report.Summary["type"] != "aggregated" || report.Summary["failed_test_count"] != 1 {
		t.Fatalf("summary = %v", report.Summary)
	}
	results := report.Results.([]map[string]any)
	got := results[0]
	if got["testcase_name"] != "[sig-storage] aggregated test" || got["junit_failure_message"] != "Failed: Passed 3 times, failed 7 times" {
		t.Fatalf("result = %v", got)
	}
	if passes, ok := got["passes"].([]any); !ok || len(passes) != 1 {
		t.Fatalf("passes = %v", got["passes"])
	}
}

func TestParseJUnitInvalid(t *testing.T) {
	_, err := parseJUnit("src", []byte("not xml"))
	if toolErrorType(t, err) != ErrInvalidOutput {
		t.Fatalf("err = %v", err)
	}
}

func TestLimitTestOutput(t *testing.T) {
	long := strings.Repeat("é", maxTestOutput)
	got := limitTestOutput(long)
	if !strings.HasSuffix(got, testOutputNotice) || len(got) > maxTestOutput+len(testOutputNotice) {
		t.Fatalf("len = %d", len(got))
	}
	if short := limitTestOutput("ok"); short != "ok" {
		t.Fatalf("short = %q", short)
	}
}

func TestJUnitParserFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.xml" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(standardJUnit))
	}))
	defer srv.Close()
	tool := newJUnitParserTool(newHTTPClient(srv.Client()))

	out, err := tool.Execute(context.Background(), json.RawMessage(`{"junit_xml_url":"`+srv.URL+`/junit.xml"}`))
	if err != nil {
		t.Fatal(err)
	}
	var report struct {
		SourceURL string         `json:"source_url"`
		Summary   map[string]any `json:"summary"`
	}
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatal(err)
	}
	if report.SourceURL != srv.URL+"/junit.xml" || report.Summary["type"] != "standard" {
		t.Fatalf("report = %+v", report)
	}

	_, err = tool.Execute(context.Background(), json.RawMessage(`{"junit_xml_url":"`+srv.URL+`/missing.xml"}`))
	if toolErrorType(t, err) != ErrUpstream || !strings.Contains(err.Error(), "HTTP 404") {
		t.Fatalf("err = %v", err)
	}
}
