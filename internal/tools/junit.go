package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/openshift/sippy-chat/internal/llm"
)

const (
	junitFetchTimeout = 60 * time.Second
	maxTestOutput     = 15360
	testOutputNotice  = "\n... [output truncated to 15KB]"
	prowLogsURL       = "https://prow.ci.openshift.org/view/gs/test-platform-results/logs/"
)

var (
	prowURLPattern    = regexp.MustCompile(`https://prow\.ci\.openshift\.org/view/gs/[^\s<>"']+/(\d+)`)
	jobIDTextPattern  = regexp.MustCompile(`(?i)job[_\s]*(?:id|run)[_\s]*:?\s*(\d{10,})`)
	jobLinkPattern    = regexp.MustCompile(`(?i)(PASSING|FAILING)\s+jobs?[:\s]*([^\s<>"']+)`)
	trailingJobIDExpr = regexp.MustCompile(`/(\d{10,})/?$`)
)

// xmlNode is a generic element; JUnit producers nest testcases at
// different depths.
type xmlNode struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Text     string     `xml:",chardata"`
	Children []xmlNode  `xml:",any"`
}

func (n *xmlNode) attr(name, def string) string {
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return def
}

func (n *xmlNode) child(name string) *xmlNode {
	for i := range n.Children {
		if n.Children[i].XMLName.Local == name {
			return &n.Children[i]
		}
	}
	return nil
}

func (n *xmlNode) testcases() []*xmlNode {
	var out []*xmlNode
	var walk func(*xmlNode)
	walk = func(node *xmlNode) {
		for i := range node.Children {
			c := &node.Children[i]
			if c.XMLName.Local == "testcase" {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(n)
	return out
}

// TestResult is one testcase, or several runs of the same test folded into
// a flake.
type TestResult struct {
	Name         string  `json:"name"`
	Classname    string  `json:"classname"`
	FullName     string  `json:"full_name"`
	Duration     float64 `json:"duration"`
	Status       string  `json:"status"`
	SuccessCount int     `json:"success_count,omitempty"`
	FailureCount int     `json:"failure_count,omitempty"`
	Output       string  `json:"output"`
}

type underlyingJob struct {
	JobID  string `json:"job_id"`
	URL    string `json:"url"`
	Status string `json:"status,omitempty"`
}

type junitReport struct {
	SourceURL      string          `json:"source_url"`
	Summary        map[string]any  `json:"summary"`
	Results        any             `json:"results"`
	UnderlyingJobs []underlyingJob `json:"underlying_jobs,omitempty"`
}

type junitArgs struct {
	JUnitXMLURL string `json:"junit_xml_url"`
}

// JUnitParserTool fetches a JUnit file and reports failures and flakes.
type JUnitParserTool struct {
	http *httpClient
}

func newJUnitParserTool(c *httpClient) *JUnitParserTool {
	return &JUnitParserTool{http: c}
}

func (t *JUnitParserTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name: JUnitParserToolName,
		Description: "Parse a JUnit XML file from a URL to get a JSON object with test failures, flakes, and aggregated results. " +
			"Takes junit_xml_url as a required parameter.",
		Schema: objectSchema(props{"junit_xml_url": stringProp("URL to the JUnit XML file")}, "junit_xml_url"),
	}
}

func (t *JUnitParserTool) Preview(args json.RawMessage) string {
	var a junitArgs
	_ = json.Unmarshal(args, &a)
	return a.JUnitXMLURL
}

func (t *JUnitParserTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var a junitArgs
	if err := decodeArgs(JUnitParserToolName, args, &a, "junit_xml_url"); err != nil {
		return "", err
	}
	if a.JUnitXMLURL == "" {
		return "", NewToolError(ErrInvalidParams, "junit_xml_url is required")
	}
	log.WithField("url", a.JUnitXMLURL).Info("fetching JUnit XML")

	body, err := t.http.get(ctx, a.JUnitXMLURL, nil, junitFetchTimeout, withHeader("Accept", "application/xml, text/xml, */*"))
	if err != nil {
		if code := httpStatus(err); code != 0 {
			return "", NewToolErrorf(ErrUpstream, "HTTP %d - Failed to fetch XML from %s", code, a.JUnitXMLURL)
		}
		return "", err
	}
	report, err := parseJUnit(a.JUnitXMLURL, body)
	if err != nil {
		return "", err
	}
	return jsonResult(JUnitParserToolName, report)
}

func parseJUnit(source string, body []byte) (*junitReport, error) {
	var root xmlNode
	if err := xml.NewDecoder(bytes.NewReader(body)).Decode(&root); err != nil {
		return nil, NewToolErrorf(ErrInvalidOutput, "Invalid XML format - %v", err)
	}
	// The root may itself be a testcase.
	cases := root.testcases()
	if root.XMLName.Local == "testcase" {
		cases = append([]*xmlNode{&root}, cases...)
	}

	report := &junitReport{SourceURL: source, Summary: map[string]any{}}
	if aggregated := aggregatedResults(cases); len(aggregated) > 0 {
		report.Summary["type"] = "aggregated"
		report.Summary["failed_test_count"] = len(aggregated)
		report.Results = aggregated
		return report, nil
	}

	results := testResults(cases)
	jobs := underlyingJobs(string(body))
	interesting := failuresAndFlakes(results)
	report.Summary["type"] = "standard"
	report.Summary["total_tests"] = len(results)
	report.Summary["failure_and_flake_count"] = len(interesting)
	report.Summary["underlying_job_count"] = len(jobs)
	report.Results = interesting
	report.UnderlyingJobs = jobs
	return report, nil
}

// aggregatedResults reads the YAML verdicts the aggregator writes into
// system-out of failed testcases.
func aggregatedResults(cases []*xmlNode) []map[string]any {
	var out []map[string]any
	for _, tc := range cases {
		failure := tc.child("failure")
		if failure == nil {
			continue
		}
		sysout := tc.child("system-out")
		if sysout == nil {
			continue
		}
		content := strings.TrimSpace(sysout.Text)
		if content == "" || !(strings.Contains(content, "passes:") || strings.Contains(content, "failures:")) {
			continue
		}
		var data map[string]any
		if err := yaml.Unmarshal([]byte(content), &data); err != nil || data == nil {
			continue
		}
		data["testcase_name"] = tc.attr("name", "Unknown")
		data["junit_failure_message"] = failure.attr("message", "No failure message")
		out = append(out, data)
	}
	return out
}

func testResults(cases []*xmlNode) []TestResult {
	results := make([]TestResult, 0, len(cases))
	for _, tc := range cases {
		r := TestResult{
			Name:      tc.attr("name", "Unknown"),
			Classname: tc.attr("classname", ""),
			Status:    "success",
		}
		r.FullName = r.Name
		if r.Classname != "" {
			r.FullName = r.Classname + "." + r.Name
		}
		if d, err := strconv.ParseFloat(tc.attr("time", "0"), 64); err == nil {
			r.Duration = d
		}

		switch {
		case tc.child("failure") != nil:
			r.Status, r.Output = "failure", elementOutput(tc.child("failure"))
		case tc.child("error") != nil:
			r.Status, r.Output = "failure", elementOutput(tc.child("error"))
		case tc.child("skipped") != nil:
			r.Status, r.Output = "skipped", elementOutput(tc.child("skipped"))
		}

		var extra []string
		if out := tc.child("system-out"); out != nil && out.Text != "" {
			extra = append(extra, "STDOUT:\n"+out.Text)
		}
		if errOut := tc.child("system-err"); errOut != nil && errOut.Text != "" {
			extra = append(extra, "STDERR:\n"+errOut.Text)
		}
		if len(extra) > 0 {
			joined := strings.Join(extra, "\n\n")
			if r.Output != "" {
				r.Output += "\n\n" + joined
			} else {
				r.Output = joined
			}
		}
		r.Output = limitTestOutput(r.Output)
		results = append(results, r)
	}
	return results
}

func elementOutput(n *xmlNode) string {
	if n.Text != "" {
		return n.Text
	}
	return n.attr("message", "")
}

func limitTestOutput(s string) string {
	if len(s) <= maxTestOutput {
		return s
	}
	cut := maxTestOutput
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + testOutputNotice
}

// failuresAndFlakes groups runs by full name. A test that both passed and
// failed is a flake; a test that only failed is reported by its first
// failure.
func failuresAndFlakes(results []TestResult) []TestResult {
	var order []string
	groups := make(map[string][]TestResult)
	for _, r := range results {
		if _, ok := groups[r.FullName]; !ok {
			order = append(order, r.FullName)
		}
		groups[r.FullName] = append(groups[r.FullName], r)
	}

	out := []TestResult{}
	for _, name := range order {
		runs := groups[name]
		var successes, failures int
		var firstFailure *TestResult
		for i := range runs {
			switch runs[i].Status {
			case "success":
				successes++
			case "failure", "error":
				failures++
				if firstFailure == nil {
					firstFailure = &runs[i]
				}
			}
		}
		switch {
		case failures == 0:
		case len(runs) > 1 && successes > 0:
			out = append(out, flake(runs, successes, failures))
		default:
			out = append(out, *firstFailure)
		}
	}
	return out
}

func flake(runs []TestResult, successes, failures int) TestResult {
	var total float64
	var b strings.Builder
	for i, r := range runs {
		total += r.Duration
		fmt.Fprintf(&b, "Run %d (%s):\n", i+1, r.Status)
		if r.Output != "" {
			b.WriteString(r.Output)
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}
	return TestResult{
		Name:         runs[0].Name,
		Classname:    runs[0].Classname,
		FullName:     runs[0].FullName,
		Duration:     total,
		Status:       "flake",
		SuccessCount: successes,
		FailureCount: failures,
		Output:       limitTestOutput(strings.TrimSuffix(b.String(), "\n")),
	}
}

// underlyingJobs finds prow job runs referenced anywhere in the document.
func underlyingJobs(content string) []underlyingJob {
	var jobs []underlyingJob
	seen := make(map[string]bool)
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			jobs = append(jobs, underlyingJob{JobID: id, URL: prowLogsURL + id})
		}
	}
	for _, m := range prowURLPattern.FindAllStringSubmatch(content, -1) {
		add(m[1])
	}
	for _, m := range jobIDTextPattern.FindAllStringSubmatch(content, -1) {
		add(m[1])
	}
	for _, m := range jobLinkPattern.FindAllStringSubmatch(content, -1) {
		link := m[2]
		if !strings.Contains(link, "prow.ci.openshift.org") && !strings.HasPrefix(link, "http") {
			continue
		}
		if id := trailingJobIDExpr.FindStringSubmatch(link); id != nil {
			jobs = append(jobs, underlyingJob{JobID: id[1], URL: link, Status: strings.ToUpper(m[1])})
		}
	}
	return jobs
}
