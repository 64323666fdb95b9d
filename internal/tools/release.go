package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/openshift/sippy-chat/internal/llm"
)

// DefaultReleaseControllerURL is the amd64 OCP release controller API.
const DefaultReleaseControllerURL = "https://amd64.ocp.releases.ci.openshift.org/api/v1"

var (
	nonVersionChars = regexp.MustCompile(`[^\d.]`)
	versionPattern  = regexp.MustCompile(`^\d+\.\d+$`)
	payloadPattern  = regexp.MustCompile(`(\d+\.\d+\.0-0\.(nightly|ci)-\d{4}-\d{2}-\d{2}-\d{6})`)
	streamPattern   = regexp.MustCompile(`^(\d+\.\d+\.0-0\.(nightly|ci))-\d{4}-\d{2}-\d{2}-\d{6}$`)
)

type releaseController struct {
	baseURL string
	http    *httpClient
}

func (r releaseController) fetch(ctx context.Context, path string, out any) error {
	base := r.baseURL
	if base == "" {
		base = DefaultReleaseControllerURL
	}
	endpoint := strings.TrimRight(base, "/") + path
	log.WithField("url", endpoint).Info("querying release controller")
	return r.http.getJSON(ctx, endpoint, nil, 0, out)
}

type releasePayloadsArgs struct {
	ReleaseVersion string `json:"release_version"`
	StreamType     string `json:"stream_type"`
}

// ReleasePayloadsTool lists recent payloads of a release stream.
type ReleasePayloadsTool struct {
	rc releaseController
}

func newReleasePayloadsTool(rc releaseController) *ReleasePayloadsTool {
	return &ReleasePayloadsTool{rc: rc}
}

func (t *ReleasePayloadsTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name: ReleasePayloadsToolName,
		Description: "Get a JSON object containing a list of recent OpenShift release payloads with their status. " +
			"Use this to find the name of the latest payload. For specific payload details, use " + PayloadDetailsToolName + ". " +
			"Input: release version (e.g., '4.20') and optional stream type ('nightly' or 'ci', defaults to 'nightly')",
		Schema: objectSchema(props{
			"release_version": stringProp("Release version (e.g., '4.20', '4.19')"),
			"stream_type":     enumProp("Stream type: 'nightly' or 'ci' (defaults to 'nightly')", "nightly", "nightly", "ci"),
		}, "release_version"),
	}
}

func (t *ReleasePayloadsTool) Preview(args json.RawMessage) string {
	var a releasePayloadsArgs
	_ = json.Unmarshal(args, &a)
	return a.ReleaseVersion
}

func (t *ReleasePayloadsTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var a releasePayloadsArgs
	if err := decodeArgs(ReleasePayloadsToolName, args, &a, "release_version", "stream_type"); err != nil {
		return "", err
	}
	stream := a.StreamType
	if stream == "" {
		stream = "nightly"
	}
	if stream != "nightly" && stream != "ci" {
		return "", NewToolErrorf(ErrInvalidParams, "Invalid stream type '%s'. Must be 'nightly' or 'ci'.", stream)
	}
	version := nonVersionChars.ReplaceAllString(a.ReleaseVersion, "")
	if !versionPattern.MatchString(version) {
		return "", NewToolErrorf(ErrInvalidParams, "Invalid release version format. Expected format like '4.20', got: %s", a.ReleaseVersion)
	}

	releaseStream := version + ".0-0." + stream
	var data any
	if err := t.rc.fetch(ctx, "/releasestream/"+releaseStream+"/tags", &data); err != nil {
		if httpStatus(err) == http.StatusNotFound {
			return "", NewToolErrorf(ErrNotFound, "Release stream '%s' not found. Check if the release version and stream type are correct.", releaseStream)
		}
		return "", asToolError(err)
	}
	return jsonResult(ReleasePayloadsToolName, data)
}

type payloadDetailsArgs struct {
	PayloadName string `json:"payload_name"`
}

// PayloadDetailsTool fetches one payload without its changelog blob.
type PayloadDetailsTool struct {
	rc releaseController
}

func newPayloadDetailsTool(rc releaseController) *PayloadDetailsTool {
	return &PayloadDetailsTool{rc: rc}
}

func (t *PayloadDetailsTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name: PayloadDetailsToolName,
		Description: "Get a JSON object with comprehensive information for a specific OpenShift release payload. " +
			"Use this ONLY when user asks for details about a specific payload. For basic payload status, use " +
			ReleasePayloadsToolName + " first. Input: payload name (e.g., '4.20.0-0.nightly-2025-06-17-061341')",
		Schema: objectSchema(props{
			"payload_name": stringProp("Full payload name (e.g., '4.20.0-0.nightly-2025-06-17-061341')"),
		}, "payload_name"),
	}
}

func (t *PayloadDetailsTool) Preview(args json.RawMessage) string {
	var a payloadDetailsArgs
	_ = json.Unmarshal(args, &a)
	return cleanPayloadName(a.PayloadName)
}

func (t *PayloadDetailsTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var a payloadDetailsArgs
	if err := decodeArgs(PayloadDetailsToolName, args, &a, "payload_name"); err != nil {
		return "", err
	}
	payload := cleanPayloadName(a.PayloadName)
	m := streamPattern.FindStringSubmatch(payload)
	if m == nil {
		return "", NewToolErrorf(ErrInvalidParams,
			"Could not extract release stream from payload name '%s'. Expected format like '4.20.0-0.nightly-2025-06-17-061341'", payload)
	}
	releaseStream := m[1]

	var data map[string]any
	if err := t.rc.fetch(ctx, "/releasestream/"+releaseStream+"/release/"+payload, &data); err != nil {
		if httpStatus(err) == http.StatusNotFound {
			return "", NewToolErrorf(ErrNotFound,
				"Payload '%s' not found in release stream '%s'. Check if the payload name is correct.", payload, releaseStream)
		}
		return "", asToolError(err)
	}
	if data == nil {
		return "", NewToolError(ErrInvalidOutput, "API returned unexpected data type. Expected JSON object.")
	}
	delete(data, "changeLog")
	return jsonResult(PayloadDetailsToolName, data)
}

// cleanPayloadName strips "name = '...'" wrappers and quotes models add.
func cleanPayloadName(raw string) string {
	cleaned := strings.TrimSpace(raw)
	if i := strings.LastIndex(cleaned, "="); i >= 0 {
		cleaned = strings.TrimSpace(cleaned[i+1:])
	}
	cleaned = strings.Trim(cleaned, `'"`)
	if m := payloadPattern.FindStringSubmatch(cleaned); m != nil {
		return m[1]
	}
	return cleaned
}
