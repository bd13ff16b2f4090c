package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"changewatch/internal/config"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "changewatch", cmd.Use)

	for _, path := range [][]string{
		{"users", "add"}, {"users", "list"}, {"users", "link"},
		{"subs", "create"}, {"subs", "from-builder"}, {"subs", "list"}, {"subs", "show"},
		{"subs", "enable"}, {"subs", "disable"}, {"subs", "reactivate"}, {"subs", "delete"}, {"subs", "run"},
		{"executions", "list"}, {"executions", "show"},
		{"query", "entities"}, {"query", "filters"}, {"query", "fields"}, {"query", "preview"}, {"query", "test"},
	} {
		sub, _, err := cmd.Find(path)
		require.NoError(t, err, strings.Join(path, " "))
		assert.Equal(t, path[len(path)-1], sub.Name())
	}
}

func TestModeFlags(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"once", "daemon", "interval", "test", "limit"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
	for _, name := range []string{"config", "env-file", "format"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}

func run(t *testing.T, args ...string) (string, string, int) {
	t.Helper()
	var out, errb bytes.Buffer
	code := Execute(args, &out, &errb)
	return out.String(), errb.String(), code
}

func TestModeFlagConflicts(t *testing.T) {
	_, stderr, code := run(t, "--once", "--daemon")
	assert.NotEqual(t, ExitSuccess, code)
	assert.Contains(t, stderr, "error:")

	_, stderr, code = run(t, "--interval", "5m")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "--interval needs --daemon")

	_, stderr, code = run(t, "--format", "xml", "query", "entities")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "invalid format")
}

func TestQueryPreviewFromFlags(t *testing.T) {
	out, stderr, code := run(t, "query", "preview",
		"--filter", "year=2024", "--filter", "region=north",
		"--field", "id", "--field", "amount", "--limit", "50")
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Equal(t, "query {\n  grants(filters: { year: 2024, region: \"north\" }, limit: 50) {\n    id\n    amount\n  }\n}\n", out)
	assert.Contains(t, stderr, "filters not in the registry: region")
}

func TestQueryPreviewJSONRoundTrip(t *testing.T) {
	out, _, code := run(t, "--format", "json", "query", "preview", "--entity", "beneficiaries")
	require.Equal(t, ExitSuccess, code)
	var pv struct {
		Entity string   `json:"entity"`
		Fields []string `json:"fields"`
		Query  string   `json:"query"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &pv))
	assert.Equal(t, "beneficiaries", pv.Entity)
	assert.Equal(t, []string{"id", "tax_id", "name", "type"}, pv.Fields)
	assert.True(t, strings.HasPrefix(pv.Query, "query {\n  beneficiaries(limit: 1000)"))
}

func TestQueryCatalog(t *testing.T) {
	out, _, code := run(t, "query", "entities")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "grants")
	assert.Contains(t, out, "beneficiaries")

	out, _, code = run(t, "query", "filters", "grants")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "call_code")

	_, stderr, code := run(t, "query", "fields", "planets")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "unsupported entity")
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("x")))
	assert.Equal(t, ExitCommandError, GetExitCode(WrapExitError(ExitCommandError, "bad", nil)))
}

// adminEnv points the CLI at a fresh sqlite database and a fake read API.
func adminEnv(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	t.Setenv(config.EnvDatabaseURL, "sqlite://"+filepath.Join(dir, "watch.db"))
	t.Setenv(config.EnvGraphQLURL, srv.URL)
	t.Setenv(config.EnvTelegram, "")
	t.Setenv(config.EnvLogLevel, "error")
	return filepath.Join(dir, "missing.yaml")
}

func TestAdminWorkflow(t *testing.T) {
	cfg := adminEnv(t, `{"data":{"grants":{"items":[{"id":"a","amount":5},{"id":"b","amount":7}]}}}`)

	out, stderr, code := run(t, "--config", cfg, "users", "add", "--email", "ops@example.com", "--name", "Ops")
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Contains(t, out, "user #1 ops@example.com created")

	_, stderr, code = run(t, "--config", cfg, "users", "add", "--email", "ops@example.com")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "already registered")

	out, stderr, code = run(t, "--config", cfg, "users", "link", "1")
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Contains(t, out, "send to the bot: /link ")

	out, stderr, code = run(t, "--config", cfg, "subs", "create", "--user", "1", "--name", "Grants",
		"--query", "query { grants { items { id amount } } }", "--frequency", "fortnightly", "--hour", "6")
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Contains(t, out, "subscription #1")
	assert.Contains(t, stderr, `unknown frequency "fortnightly"`)

	_, stderr, code = run(t, "--config", cfg, "subs", "create", "--user", "9", "--name", "x", "--query", "q")
	assert.Equal(t, ExitCommandError, code, stderr)

	out, stderr, code = run(t, "--config", cfg, "subs", "run", "1")
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Contains(t, out, "2 records, 2 new, 0 modified, 0 removed")

	out, stderr, code = run(t, "--config", cfg, "--format", "json", "subs", "list")
	require.Equal(t, ExitSuccess, code, stderr)
	var subs []subscriptionView
	require.NoError(t, json.Unmarshal([]byte(out), &subs))
	require.Len(t, subs, 1)
	assert.Equal(t, 2, subs[0].LastCheckCount)
	assert.Equal(t, "fortnightly", subs[0].Frequency)
	assert.NotNil(t, subs[0].NextRun)

	out, _, code = run(t, "--config", cfg, "subs", "disable", "1")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "#1 is disabled")

	out, stderr, code = run(t, "--config", cfg, "--format", "json", "executions", "list", "--sub", "1")
	require.Equal(t, ExitSuccess, code, stderr)
	var execs []executionView
	require.NoError(t, json.Unmarshal([]byte(out), &execs))
	require.Len(t, execs, 1)
	assert.Equal(t, "completed", execs[0].State)
	assert.Equal(t, 2, execs[0].Created)

	out, stderr, code = run(t, "--config", cfg, "executions", "show", "1")
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Contains(t, out, "detail:")

	_, _, code = run(t, "--config", cfg, "subs", "show", "99")
	assert.Equal(t, ExitCommandError, code)

	out, _, code = run(t, "--config", cfg, "subs", "delete", "1")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "deleted")
}

func TestFromBuilderStoresSpecAndCompareFields(t *testing.T) {
	cfg := adminEnv(t, `{"data":{"grants":[]}}`)
	_, stderr, code := run(t, "--config", cfg, "users", "add", "--email", "a@example.com")
	require.Equal(t, ExitSuccess, code, stderr)

	out, stderr, code := run(t, "--config", cfg, "--format", "json", "subs", "from-builder",
		"--user", "1", "--name", "Big grants", "--filter", "year=2024", "--field", "id", "--field", "amount")
	require.Equal(t, ExitSuccess, code, stderr)
	var v subscriptionView
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, []string{"id", "amount"}, v.CompareFields)
	assert.Equal(t, "id", v.IDField)
	assert.Contains(t, v.Query, "grants(filters: { year: 2024 }")

	out, stderr, code = run(t, "--config", cfg, "--test", "1")
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Contains(t, out, "0 records")
	assert.Contains(t, out, "no stored snapshot")
}
