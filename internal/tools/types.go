// Package tools implements the read-only CI investigation tools the model
// may call: Sippy, Jira, the release controller, junit parsing and the
// Sippy database.
package tools

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"
)

// ToolErrorType classifies a tool failure in its observation.
type ToolErrorType string

const (
	ErrInvalidParams   ToolErrorType = "INVALID_PARAMS"
	ErrNotConfigured   ToolErrorType = "NOT_CONFIGURED"
	ErrNotFound        ToolErrorType = "NOT_FOUND"
	ErrAccessDenied    ToolErrorType = "ACCESS_DENIED"
	ErrUpstream        ToolErrorType = "UPSTREAM_ERROR"
	ErrUnreachable     ToolErrorType = "UNREACHABLE"
	ErrInvalidOutput   ToolErrorType = "INVALID_RESPONSE"
	ErrQueryRejected   ToolErrorType = "QUERY_REJECTED"
	ErrExecutionFailed ToolErrorType = "EXECUTION_FAILED"
)

// ToolError is a failure the model should see and may react to. The engine
// turns it into a {"error": ...} observation.
type ToolError struct {
	Type    ToolErrorType `json:"type"`
	Message string        `json:"message"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// NewToolError creates a new ToolError.
func NewToolError(errType ToolErrorType, message string) *ToolError {
	return &ToolError{Type: errType, Message: message}
}

// NewToolErrorf creates a new ToolError with formatted message.
func NewToolErrorf(errType ToolErrorType, format string, args ...interface{}) *ToolError {
	return &ToolError{Type: errType, Message: fmt.Sprintf(format, args...)}
}

// Tool names.
const (
	JobSummaryToolName           = "get_prow_job_summary"
	JobPayloadToolName           = "get_prow_job_payload"
	LogAnalyzerToolName          = "analyze_job_logs"
	AggregatedResultsToolName    = "get_aggregated_results_url"
	KnownIncidentsToolName       = "check_known_incidents"
	JiraIssueToolName            = "get_jira_issue_analysis"
	ReleasePayloadsToolName      = "get_release_payloads"
	PayloadDetailsToolName       = "get_payload_details"
	JUnitParserToolName          = "parse_junit_xml"
	TestDetailsToolName          = "get_test_details_report"
	TriagePotentialMatchToolName = "get_triage_potential_matches"
	DatabaseQueryToolName        = "query_sippy_database"
)

// maxOutputSize caps an observation. Larger results are cut at a line
// boundary when one is close enough.
const maxOutputSize = 150 * 1024

const truncationNotice = "\n\n**Tool output truncated** - Tool produced too much data (>150KB). Use more specific queries or filters to get focused results."

// jsonResult encodes v as the tool observation.
func jsonResult(name string, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", NewToolErrorf(ErrExecutionFailed, "encode result: %v", err)
	}
	return truncateOutput(name, string(data)), nil
}

func truncateOutput(name, out string) string {
	if len(out) <= maxOutputSize {
		return out
	}
	keep := maxOutputSize - len(truncationNotice)
	for keep > 0 && !utf8.RuneStart(out[keep]) {
		keep--
	}
	cut := out[:keep]
	if nl := strings.LastIndexByte(cut, '\n'); nl > keep*8/10 {
		cut = cut[:nl]
	}
	log.WithFields(log.Fields{"tool": name, "bytes": len(out)}).Warn("tool output truncated")
	return cut + truncationNotice
}
