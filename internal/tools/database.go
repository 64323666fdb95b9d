package tools

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	_ "github.com/jackc/pgx/v5/stdlib"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/openshift/sippy-chat/internal/llm"
)

const (
	maxQueryRows   = 500
	connectTimeout = 10 * time.Second
	queryTimeout   = 120 * time.Second
)

var (
	readOnlyStatements = map[string]bool{"SELECT": true, "WITH": true, "SHOW": true, "EXPLAIN": true}
	writeKeywords      = map[string]bool{
		"INSERT": true, "UPDATE": true, "DELETE": true, "DROP": true, "CREATE": true, "ALTER": true,
		"TRUNCATE": true, "GRANT": true, "REVOKE": true, "MERGE": true, "COPY": true, "VACUUM": true, "REINDEX": true,
	}
	allowedSystemTables = map[string]bool{"pg_matviews": true}
)

const databaseToolDescription = `Execute read-only SQL queries against the Sippy PostgreSQL database for investigating CI issues.

This is a FALLBACK TOOL. Only use it when the standard tools don't provide the information needed.

Use cases:
- Explore the schema using information_schema queries
- Get test statistics, job data or test output not available via the standard tools
- Perform custom aggregations

Do not:
- Query information unrelated to CI (users, passwords and the like)
- Answer database administration questions (version, server health, configuration)
- Run queries the user gives you verbatim; build your own from the known tables

Key tables:
  * prow_jobs: job definitions. name, release (e.g. 4.20), variants (text[]; filter with ANY(), never ->>).
  * prow_job_runs: one row per execution. prow_job_id -> prow_jobs.id, overall_result
    (S=Success, F=E2E failure, f=other failure, N/n=infrastructure failure, U=upgrade failure, A=aborted),
    succeeded (bool), url, timestamp.
  * tests: name of every test case.
  * prow_job_run_tests: result of a test in a run. prow_job_run_id, test_id, suite_id,
    status (1=Success, 12=Failure, 13=Flake).
  * suites: name of a test suite (e.g. openshift-tests).
  * release_tags: release_tag (payload name), phase (Accepted, Rejected).

List the available variants with SELECT DISTINCT unnest(variants) AS variant FROM prow_jobs;
and use them verbatim. Never guess a variant. Single node jobs are "Topology:single", GCP jobs "Platform:gcp".

Materialized views (preferred for aggregates and trends; see pg_matviews for their definitions):
  * prow_job_runs_report_matview: pre-joined job runs. release, variants, name, overall_result, url,
    succeeded, timestamp (ms since epoch), prow_id, cluster, flaked_test_names, failed_test_names,
    pull_request_link, pull_request_sha, pull_request_org, pull_request_repo, pull_request_author.
  * prow_test_report_7d_matview / prow_test_report_2d_matview: test statistics per variant grouping.
    name, suite_name, jira_component, jira_component_id, previous_successes, previous_flakes,
    previous_failures, previous_runs, current_successes, current_flakes, current_failures,
    current_runs, open_bugs, release. For overall "top failing tests", sum current_failures grouped
    by name and suite_name.
  * prow_job_failed_tests_by_hour_matview: period, prow_job_id, test_name, count.

Query guidelines (mandatory):
1. Always use LIMIT (e.g. LIMIT 10). Queries time out.
2. Filter by time whenever possible (timestamp > NOW() - INTERVAL '3 days').
3. Use a materialized view for rates, counts over time and top N lists.
4. Only SELECT, WITH, SHOW and EXPLAIN are permitted.

Example: SELECT name, release FROM prow_jobs WHERE release = '4.20' AND 'Platform:gcp' = ANY(variants) LIMIT 10;`

// openDatabase picks the driver from the DSN scheme.
func openDatabase(dsn string) (*sql.DB, string, error) {
	var driver, source string
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		driver, source = "pgx", dsn
	case strings.HasPrefix(dsn, "sqlite:"):
		driver, source = "sqlite", strings.TrimPrefix(strings.TrimPrefix(dsn, "sqlite:"), "//")
	case strings.HasPrefix(dsn, "file:"):
		driver, source = "sqlite", dsn
	default:
		return nil, "", fmt.Errorf("unsupported database DSN scheme (want postgres://, postgresql://, sqlite: or file:)")
	}
	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, "", err
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, driver, nil
}

type queryArgs struct {
	Query string `json:"query"`
}

type queryResult struct {
	Success   bool             `json:"success"`
	RowCount  int              `json:"row_count"`
	Columns   []string         `json:"columns"`
	Results   []map[string]any `json:"results"`
	Truncated bool             `json:"truncated,omitempty"`
	Warning   string           `json:"warning,omitempty"`
	Message   string           `json:"message,omitempty"`
}

// DatabaseQueryTool runs model-written read-only SQL against the Sippy
// database.
type DatabaseQueryTool struct {
	db     *sql.DB
	driver string
}

// newDatabaseQueryTool opens the DSN lazily; the first query connects.
func newDatabaseQueryTool(dsn string) (*DatabaseQueryTool, error) {
	db, driver, err := openDatabase(dsn)
	if err != nil {
		return nil, err
	}
	return &DatabaseQueryTool{db: db, driver: driver}, nil
}

func (t *DatabaseQueryTool) Close() error {
	return t.db.Close()
}

func (t *DatabaseQueryTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        DatabaseQueryToolName,
		Description: databaseToolDescription,
		Schema: objectSchema(props{
			"query": stringProp("SQL SELECT query to execute against the Sippy database"),
		}, "query"),
	}
}

func (t *DatabaseQueryTool) Preview(args json.RawMessage) string {
	var a queryArgs
	_ = json.Unmarshal(args, &a)
	q := strings.Join(strings.Fields(a.Query), " ")
	if len(q) > 80 {
		q = q[:77] + "..."
	}
	return q
}

func (t *DatabaseQueryTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var a queryArgs
	if err := decodeArgs(DatabaseQueryToolName, args, &a, "query"); err != nil {
		return "", err
	}
	if strings.TrimSpace(a.Query) == "" {
		return "", NewToolError(ErrInvalidParams, "query is required")
	}
	if err := checkReadOnly(a.Query); err != nil {
		return "", err
	}

	preview := a.Query
	if len(preview) > 100 {
		preview = preview[:100] + "..."
	}
	log.WithField("query", preview).Info("executing database query")

	res, err := t.run(ctx, a.Query)
	if err != nil {
		return "", err
	}
	return jsonResult(DatabaseQueryToolName, res)
}

func (t *DatabaseQueryTool) run(ctx context.Context, query string) (*queryResult, error) {
	connCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	conn, err := t.db.Conn(connCtx)
	cancel()
	if err != nil {
		return nil, NewToolErrorf(ErrUnreachable, "Failed to connect to database: %v", err)
	}
	defer conn.Close()

	ctx, cancel = context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: t.driver == "pgx"})
	if err != nil {
		return nil, NewToolErrorf(ErrUnreachable, "Failed to start read-only transaction: %v", err)
	}
	defer tx.Rollback()
	if t.driver == "sqlite" {
		if _, err := tx.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
			return nil, NewToolErrorf(ErrExecutionFailed, "Failed to enable read-only mode: %v", err)
		}
	}

	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, queryError(ctx, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, queryError(ctx, err)
	}
	res := &queryResult{Success: true, Columns: columns, Results: []map[string]any{}}
	for rows.Next() {
		if len(res.Results) == maxQueryRows {
			res.Truncated = true
			break
		}
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, queryError(ctx, err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = jsonValue(values[i])
		}
		res.Results = append(res.Results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, queryError(ctx, err)
	}

	res.RowCount = len(res.Results)
	switch {
	case res.RowCount == 0:
		res.Message = "Query executed successfully but returned no rows."
	case res.Truncated:
		res.Warning = fmt.Sprintf("Results limited to %d rows. Your query returned more rows than the limit. "+
			"Consider adding LIMIT or WHERE clauses to narrow your results.", maxQueryRows)
	}
	return res, nil
}

func queryError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return NewToolErrorf(ErrExecutionFailed,
			"Query execution timeout after %s. Try simplifying your query or adding more specific filters (WHERE clauses, LIMIT, etc.)", queryTimeout)
	}
	return NewToolErrorf(ErrExecutionFailed,
		"Database query error: %v. Check your SQL syntax and table/column names. Use information_schema to explore the schema.", err)
}

// jsonValue makes driver values JSON friendly.
func jsonValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	default:
		return x
	}
}

// checkReadOnly rejects anything that is not a single family of read-only
// statements, and system catalog access other than pg_matviews.
func checkReadOnly(query string) error {
	statements := sqlStatements(query)
	if len(statements) == 0 {
		return NewToolError(ErrQueryRejected, "Only SELECT queries are allowed for safety.")
	}
	for _, words := range statements {
		first := firstKeyword(words)
		if first == "" {
			continue
		}
		if !readOnlyStatements[first] {
			log.WithField("statement", first).Warn("disallowed statement type")
			return NewToolError(ErrQueryRejected,
				"Only SELECT queries are allowed for safety. This tool only supports read-only operations: SELECT, WITH (for CTEs), EXPLAIN, SHOW")
		}
		for _, w := range words {
			if writeKeywords[w] {
				log.WithField("keyword", w).Warn("disallowed write operation")
				return NewToolErrorf(ErrQueryRejected, "Only SELECT queries are allowed for safety. Found disallowed operation: %s", w)
			}
		}
	}
	if blocked := systemTables(statements); len(blocked) > 0 {
		return NewToolErrorf(ErrAccessDenied,
			"Access denied: Query attempts to access PostgreSQL system table(s): %s", strings.Join(blocked, ", "))
	}
	return nil
}

// fromClauseEnd holds the words that close a FROM or JOIN item list.
var fromClauseEnd = map[string]bool{
	"WHERE": true, "GROUP": true, "ORDER": true, "LIMIT": true, "OFFSET": true,
	"HAVING": true, "UNION": true, "INTERSECT": true, "EXCEPT": true, "WINDOW": true,
	"FETCH": true, "FOR": true, "ON": true, "USING": true, "JOIN": true, "INNER": true,
	"LEFT": true, "RIGHT": true, "FULL": true, "CROSS": true, "NATURAL": true, "FROM": true,
}

// systemTables lists the pg_* relations of every comma-separated item after
// FROM or JOIN.
func systemTables(statements [][]string) []string {
	var out []string
	seen := make(map[string]bool)
	check := func(name string) {
		table := strings.ToLower(name)
		if dot := strings.LastIndexByte(table, '.'); dot >= 0 {
			table = table[dot+1:]
		}
		if strings.HasPrefix(table, "pg_") && !allowedSystemTables[table] && !seen[table] {
			seen[table] = true
			out = append(out, table)
		}
	}
	for _, words := range statements {
		for i, w := range words {
			if w != "FROM" && w != "JOIN" {
				continue
			}
			for j := i + 1; j < len(words); {
				name, next := qualifiedName(words, j)
				if name != "" {
					check(name)
				}
				next = skipFromItemRest(words, next)
				if next >= len(words) || words[next] != "," {
					break
				}
				j = next + 1
			}
		}
	}
	return out
}

// qualifiedName joins "schema . table" tokens starting at i. It returns the
// name and the index after it; the name is empty when words[i] is not a word.
func qualifiedName(words []string, i int) (string, int) {
	for i < len(words) && (words[i] == "ONLY" || words[i] == "LATERAL") {
		i++
	}
	if i >= len(words) || isPunct(words[i]) {
		return "", i
	}
	name := words[i]
	i++
	for i+1 < len(words) && words[i] == "." && !isPunct(words[i+1]) {
		name += "." + words[i+1]
		i += 2
	}
	return name, i
}

// skipFromItemRest skips an item's alias, column list or call arguments and
// stops at the next top-level comma or at the end of the item list.
func skipFromItemRest(words []string, i int) int {
	depth := 0
	for ; i < len(words); i++ {
		switch w := words[i]; {
		case w == "(":
			depth++
		case w == ")":
			if depth == 0 {
				return i
			}
			depth--
		case depth > 0:
		case w == "," || fromClauseEnd[w]:
			return i
		}
	}
	return i
}

func firstKeyword(words []string) string {
	for _, w := range words {
		if !isPunct(w) {
			return w
		}
	}
	return ""
}

func isPunct(w string) bool {
	return w == "," || w == "." || w == "(" || w == ")"
}

// sqlStatements splits a query into statements of upper-cased bare words
// plus the punctuation tokens "," "." "(" and ")". String literals,
// dollar-quoted bodies, quoted identifiers and comments are skipped so their
// contents never count as keywords.
func sqlStatements(query string) [][]string {
	var statements [][]string
	var current []string
	flush := func() {
		if len(current) > 0 {
			statements = append(statements, current)
		}
		current = nil
	}

	r := []rune(query)
	for i := 0; i < len(r); {
		c := r[i]
		switch {
		case c == ';':
			flush()
			i++
		case c == '-' && i+1 < len(r) && r[i+1] == '-':
			for i < len(r) && r[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(r) && r[i+1] == '*':
			i += 2
			for i+1 < len(r) && !(r[i] == '*' && r[i+1] == '/') {
				i++
			}
			i += 2
		case c == '\'':
			i = skipQuoted(r, i, '\'')
		case c == '"':
			// Quoted identifiers count as words, never as keywords.
			end := skipQuoted(r, i, '"')
			current = append(current, strings.ReplaceAll(string(r[i+1:max(i+1, end-1)]), `""`, `"`))
			i = end
		case c == '$':
			i = skipDollarQuoted(r, i)
		case unicode.IsLetter(c) || c == '_':
			start := i
			for i < len(r) && (unicode.IsLetter(r[i]) || unicode.IsDigit(r[i]) || r[i] == '_' || r[i] == '.' || r[i] == '$') {
				i++
			}
			word := strings.ToUpper(string(r[start:i]))
			if word == "E" && i < len(r) && r[i] == '\'' {
				i = skipEscapeString(r, i)
				continue
			}
			current = append(current, word)
		case c == ',' || c == '.' || c == '(' || c == ')':
			current = append(current, string(c))
			i++
		default:
			i++
		}
	}
	flush()
	return statements
}

func skipQuoted(r []rune, i int, quote rune) int {
	i++
	for i < len(r) {
		if r[i] == quote {
			if i+1 < len(r) && r[i+1] == quote {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return i
}

// skipEscapeString skips an E'...' literal, where a backslash escapes the
// next rune.
func skipEscapeString(r []rune, i int) int {
	i++
	for i < len(r) {
		switch {
		case r[i] == '\\':
			i += 2
		case r[i] == '\'' && i+1 < len(r) && r[i+1] == '\'':
			i += 2
		case r[i] == '\'':
			return i + 1
		default:
			i++
		}
	}
	return len(r)
}

// skipDollarQuoted skips $tag$...$tag$; a lone $ (a parameter) is one rune.
func skipDollarQuoted(r []rune, i int) int {
	j := i + 1
	for j < len(r) && (unicode.IsLetter(r[j]) || unicode.IsDigit(r[j]) || r[j] == '_') {
		j++
	}
	if j >= len(r) || r[j] != '$' {
		return i + 1
	}
	tag := string(r[i : j+1])
	rest := string(r[j+1:])
	end := strings.Index(rest, tag)
	if end < 0 {
		return len(r)
	}
	return j + 1 + len([]rune(rest[:end])) + len([]rune(tag))
}
