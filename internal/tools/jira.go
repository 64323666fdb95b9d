package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/openshift/sippy-chat/internal/llm"
)

// DefaultJiraURL is used when no Jira URL is configured.
const DefaultJiraURL = "https://issues.redhat.com"

const (
	incidentJQL       = `project = "TRT" AND labels = "trt-incident" AND status not in (Closed, Done, Resolved)`
	incidentFields    = "key,summary,status,priority,created,updated,description,labels"
	maxIncidents      = 20
	maxRecentComments = 10
	unknownCommentAge = 999
)

// JiraConfig holds the Jira endpoint and optional basic-auth credentials.
type JiraConfig struct {
	URL      string
	Username string
	Token    string
}

type jiraClient struct {
	cfg  JiraConfig
	http *httpClient
}

func (j jiraClient) base() string {
	if j.cfg.URL == "" {
		return DefaultJiraURL
	}
	return strings.TrimRight(j.cfg.URL, "/")
}

func (j jiraClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	return j.http.getJSON(ctx, j.base()+path, query, 0, out, withBasicAuth(j.cfg.Username, j.cfg.Token))
}

// KnownIncidentsTool lists open TRT incidents.
type KnownIncidentsTool struct {
	jira jiraClient
}

func newKnownIncidentsTool(jira jiraClient) *KnownIncidentsTool {
	return &KnownIncidentsTool{jira: jira}
}

func (t *KnownIncidentsTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        KnownIncidentsToolName,
		Description: "Get a JSON object with a list of all known open TRT incidents from Jira.",
		Schema:      objectSchema(props{}),
	}
}

func (t *KnownIncidentsTool) Preview(json.RawMessage) string {
	return "open TRT incidents"
}

func (t *KnownIncidentsTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	if err := decodeArgs(KnownIncidentsToolName, args, &struct{}{}); err != nil {
		return "", err
	}
	query := url.Values{
		"jql":        {incidentJQL},
		"fields":     {incidentFields},
		"maxResults": {fmt.Sprint(maxIncidents)},
	}
	log.WithField("jql", incidentJQL).Info("querying Jira for open TRT incidents")

	var data map[string]any
	if err := t.jira.getJSON(ctx, "/rest/api/2/search", query, &data); err != nil {
		switch httpStatus(err) {
		case http.StatusUnauthorized:
			return "", NewToolError(ErrAccessDenied, "Jira authentication failed. Check JIRA_USERNAME and JIRA_TOKEN environment variables.")
		case http.StatusForbidden:
			return "", NewToolError(ErrAccessDenied, "Access denied to Jira. You may need authentication or permissions to view TRT project.")
		}
		return "", asToolError(err)
	}
	if issues, ok := data["issues"].([]any); ok {
		for _, raw := range issues {
			if issue, ok := raw.(map[string]any); ok {
				if key, ok := issue["key"].(string); ok {
					issue["browse_url"] = t.jira.base() + "/browse/" + key
				}
			}
		}
	}
	return jsonResult(KnownIncidentsToolName, data)
}

type jiraIssueArgs struct {
	IssueKey string `json:"issue_key"`
}

type jiraNamed struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

type jiraIssue struct {
	Key    string `json:"key"`
	Fields struct {
		Summary     string      `json:"summary"`
		Description *string     `json:"description"`
		Status      *jiraNamed  `json:"status"`
		Priority    *jiraNamed  `json:"priority"`
		IssueType   *jiraNamed  `json:"issuetype"`
		Assignee    *jiraNamed  `json:"assignee"`
		Reporter    *jiraNamed  `json:"reporter"`
		Created     string      `json:"created"`
		Updated     string      `json:"updated"`
		Resolution  *jiraNamed  `json:"resolution"`
		FixVersions []jiraNamed `json:"fixVersions"`
		Labels      []string    `json:"labels"`
		Components  []jiraNamed `json:"components"`
	} `json:"fields"`
}

type jiraComments struct {
	Comments []struct {
		Author  *jiraNamed `json:"author"`
		Body    string     `json:"body"`
		Created string     `json:"created"`
		Updated string     `json:"updated"`
	} `json:"comments"`
}

type issueComment struct {
	Author  *string `json:"author"`
	Body    string  `json:"body"`
	Created string  `json:"created"`
	Updated string  `json:"updated"`
}

type issueInfo struct {
	Key         string   `json:"key"`
	Summary     string   `json:"summary"`
	Description *string  `json:"description"`
	Status      *string  `json:"status"`
	Priority    *string  `json:"priority"`
	IssueType   *string  `json:"issue_type"`
	Assignee    *string  `json:"assignee"`
	Reporter    *string  `json:"reporter"`
	Created     string   `json:"created"`
	Updated     string   `json:"updated"`
	Resolution  *string  `json:"resolution"`
	FixVersions []string `json:"fix_versions"`
	Labels      []string `json:"labels"`
	Components  []string `json:"components"`
}

type issueAnalysis struct {
	Issue    issueInfo `json:"issue"`
	Comments struct {
		TotalCount           int            `json:"total_count"`
		RecentComments       []issueComment `json:"recent_comments"`
		DaysSinceLastComment *int           `json:"days_since_last_comment"`
	} `json:"comments"`
}

// JiraIssueTool summarizes one issue and its most recent comments.
type JiraIssueTool struct {
	jira jiraClient
	now  func() time.Time
}

func newJiraIssueTool(jira jiraClient) *JiraIssueTool {
	return &JiraIssueTool{jira: jira, now: time.Now}
}

func (t *JiraIssueTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name: JiraIssueToolName,
		Description: "Get Jira issue information including description, status, and recent comments.\n\n" +
			"This tool provides:\n- Issue description and current status\n- Recent comments (sorted newest first)\n" +
			"- Basic metadata (assignee, priority, fix versions, etc.)\n\nInput: issue_key (the Jira issue key, e.g., OCPBUGS-12345)",
		Schema: objectSchema(props{
			"issue_key": stringProp("Jira issue key (e.g., OCPBUGS-12345)"),
		}, "issue_key"),
	}
}

func (t *JiraIssueTool) Preview(args json.RawMessage) string {
	var a jiraIssueArgs
	_ = json.Unmarshal(args, &a)
	return strings.TrimSpace(a.IssueKey)
}

func (t *JiraIssueTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var a jiraIssueArgs
	if err := decodeArgs(JiraIssueToolName, args, &a, "issue_key"); err != nil {
		return "", err
	}
	key := strings.TrimSpace(a.IssueKey)
	if key == "" {
		return "", NewToolError(ErrInvalidParams, "issue_key is required")
	}

	path := "/rest/api/2/issue/" + url.PathEscape(key)
	var issue jiraIssue
	if err := t.jira.getJSON(ctx, path, nil, &issue); err != nil {
		return "", t.issueError(key, err)
	}
	var comments jiraComments
	if err := t.jira.getJSON(ctx, path+"/comment", nil, &comments); err != nil {
		return "", t.issueError(key, err)
	}
	return jsonResult(JiraIssueToolName, t.analyze(issue, comments))
}

func (t *JiraIssueTool) issueError(key string, err error) error {
	if httpStatus(err) == http.StatusNotFound {
		return NewToolErrorf(ErrNotFound, "Jira issue %s not found or access denied", key)
	}
	var te *ToolError
	if errors.As(err, &te) && te.Type == ErrUnreachable {
		return NewToolErrorf(ErrUnreachable, "Failed to connect to Jira at %s - %s", t.jira.base(), te.Message)
	}
	return asToolError(err)
}

func (t *JiraIssueTool) analyze(issue jiraIssue, comments jiraComments) issueAnalysis {
	f := issue.Fields
	var out issueAnalysis
	out.Issue = issueInfo{
		Key:         issue.Key,
		Summary:     f.Summary,
		Description: f.Description,
		Status:      nameOf(f.Status),
		Priority:    nameOf(f.Priority),
		IssueType:   nameOf(f.IssueType),
		Assignee:    displayName(f.Assignee),
		Reporter:    displayName(f.Reporter),
		Created:     f.Created,
		Updated:     f.Updated,
		Resolution:  nameOf(f.Resolution),
		FixVersions: namesOf(f.FixVersions),
		Labels:      f.Labels,
		Components:  namesOf(f.Components),
	}
	if out.Issue.Labels == nil {
		out.Issue.Labels = []string{}
	}

	list := make([]issueComment, 0, len(comments.Comments))
	for _, c := range comments.Comments {
		list = append(list, issueComment{Author: displayName(c.Author), Body: c.Body, Created: c.Created, Updated: c.Updated})
	}
	sort.SliceStable(list, func(i, j int) bool {
		return parseJiraTime(list[i].Created).After(parseJiraTime(list[j].Created))
	})

	out.Comments.TotalCount = len(list)
	if len(list) > 0 {
		days := t.daysOld(list[0].Created)
		out.Comments.DaysSinceLastComment = &days
	}
	if len(list) > maxRecentComments {
		list = list[:maxRecentComments]
	}
	out.Comments.RecentComments = list
	return out
}

var jiraTimeLayouts = []string{
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
	time.RFC3339Nano,
}

func parseJiraTime(s string) time.Time {
	for _, layout := range jiraTimeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts
		}
	}
	return time.Time{}
}

func (t *JiraIssueTool) daysOld(s string) int {
	ts := parseJiraTime(s)
	if ts.IsZero() {
		return unknownCommentAge
	}
	return int(t.now().Sub(ts).Hours() / 24)
}

func nameOf(n *jiraNamed) *string {
	if n == nil {
		return nil
	}
	return &n.Name
}

func displayName(n *jiraNamed) *string {
	if n == nil {
		return nil
	}
	return &n.DisplayName
}

func namesOf(list []jiraNamed) []string {
	out := make([]string, 0, len(list))
	for _, n := range list {
		out = append(out, n.Name)
	}
	return out
}
