package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testJira(t *testing.T, cfg JiraConfig, h http.HandlerFunc) jiraClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg.URL = srv.URL
	return jiraClient{cfg: cfg, http: newHTTPClient(srv.Client())}
}

func TestKnownIncidents(t *testing.T) {
	jira := testJira(t, JiraConfig{Username: "trt", Token: "secret"}, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/api/2/search" {
			http.NotFound(w, r)
			return
		}
		if user, pass, ok := r.BasicAuth(); !ok || user != "trt" || pass != "secret" {
			t.Errorf("basic auth = %q %q %v", user, pass, ok)
		}
		q := r.URL.Query()
		if q.Get("jql") != incidentJQL || q.Get("maxResults") != "20" || q.Get("fields") != incidentFields {
			t.Errorf("query = %v", q)
		}
		w.Write([]byte(`{"total":1,"issues":[{"key":"TRT-1234","fields":{"summary":"AWS quota"}}]}`))
	})

	out, err := newKnownIncidentsTool(jira).Execute(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	var got struct {
		Issues []struct {
			Key       string `json:"key"`
			BrowseURL string `json:"browse_url"`
		} `json:"issues"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatal(err)
	}
	if len(got.Issues) != 1 || got.Issues[0].BrowseURL != jira.base()+"/browse/TRT-1234" {
		t.Fatalf("got = %+v", got)
	}
}

func TestKnownIncidentsAuthErrors(t *testing.T) {
	for _, code := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		jira := testJira(t, JiraConfig{}, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		})
		_, err := newKnownIncidentsTool(jira).Execute(context.Background(), nil)
		if toolErrorType(t, err) != ErrAccessDenied {
			t.Fatalf("%d: err = %v", code, err)
		}
	}
}

func TestJiraIssueAnalysis(t *testing.T) {
	jira := testJira(t, JiraConfig{}, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rest/api/2/issue/OCPBUGS-12345":
			w.Write([]byte(`{"key":"OCPBUGS-12345","fields":{
				"summary":"etcd leader elections","status":{"name":"POST"},"priority":{"name":"Major"},
				"issuetype":{"name":"Bug"},"assignee":{"displayName":"A. Person"},"reporter":null,
				"created":"2025-05-01T10:00:00.000+0000","fixVersions":[{"name":"4.20"}],"labels":["trt"],
				"components":[{"name":"Etcd"}]}}`))
		case "/rest/api/2/issue/OCPBUGS-12345/comment":
			w.Write([]byte(`{"comments":[
				{"author":{"displayName":"old"},"body":"first","created":"2025-05-02T10:00:00.000+0000"},
				{"author":{"displayName":"new"},"body":"latest","created":"2025-05-20T10:00:00.000+0000"}]}`))
		default:
			http.NotFound(w, r)
		}
	})
	tool := newJiraIssueTool(jira)
	tool.now = func() time.Time { return time.Date(2025, 5, 23, 10, 0, 0, 0, time.UTC) }

	out, err := tool.Execute(context.Background(), json.RawMessage(`{"issue_key":" OCPBUGS-12345 "}`))
	if err != nil {
		t.Fatal(err)
	}
	var got issueAnalysis
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatal(err)
	}
	if got.Issue.Key != "OCPBUGS-12345" || *got.Issue.Status != "POST" || *got.Issue.Assignee != "A. Person" || got.Issue.Reporter != nil {
		t.Fatalf("issue = %+v", got.Issue)
	}
	if len(got.Issue.FixVersions) != 1 || got.Issue.Components[0] != "Etcd" {
		t.Fatalf("issue = %+v", got.Issue)
	}
	c := got.Comments
	if c.TotalCount != 2 || c.RecentComments[0].Body != "latest" || *c.DaysSinceLastComment != 3 {
		t.Fatalf("comments = %+v", c)
	}
}

func TestJiraIssueNotFound(t *testing.T) {
	jira := testJira(t, JiraConfig{}, http.NotFound)
	_, err := newJiraIssueTool(jira).Execute(context.Background(), json.RawMessage(`{"issue_key":"OCPBUGS-1"}`))
	if toolErrorType(t, err) != ErrNotFound {
		t.Fatalf("err = %v", err)
	}
}

func TestJiraCommentAge(t *testing.T) {
	tool := newJiraIssueTool(jiraClient{})
	tool.now = func() time.Time { return time.Date(2025, 1, 11, 0, 0, 0, 0, time.UTC) }
	if got := tool.daysOld("2025-01-01T00:00:00Z"); got != 10 {
		t.Fatalf("daysOld = %d", got)
	}
	if got := tool.daysOld("yesterday"); got != unknownCommentAge {
		t.Fatalf("daysOld = %d", got)
	}
}
