package test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/maxwell3025/theorem-library/services/catalog"
	"github.com/maxwell3025/theorem-library/services/catalog/config"
)

// v0.1.0 shipped the first stable wire contract for the catalog REST
// surface. Released clients (theoremctl v0.1.x, fetch tooling, CI submit
// hooks) bind to these paths, JSON field names, and vocabulary words, so the
// bodies here are written as raw JSON on purpose: a rename inside the server
// types must fail this file. A failure here is a compatibility break, not an
// ordinary bug.

const (
	contractRepo   = "https://github.com/release/contract-check"
	contractCommit = "0123456789abcdef0123456789abcdef01234567"
	contractToken  = "release-token"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newContractCatalog boots an in-memory catalog with one dependency-free
// project ready to submit.
func newContractCatalog(t *testing.T) *gin.Engine {
	t.Helper()

	cfg := config.Config{}
	cfg.Storage.InMemory = true
	cfg.Tracing.Exporter = "none"
	cfg.Checkout.Root = t.TempDir()
	cfg.InternalToken = contractToken

	svc, err := catalog.New(cfg)
	if err != nil {
		t.Fatalf("constructing catalog: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })

	dir := filepath.Join(cfg.Checkout.Root, "aHR0cHM6Ly9naXRodWIuY29tL3JlbGVhc2UvY29udHJhY3QtY2hlY2s=", contractCommit)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("creating checkout dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "math-dependencies.json"), []byte("[]\n"), 0644); err != nil {
		t.Fatalf("writing manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "lakefile.toml"),
		[]byte("name = \"ContractCheck\"\nversion = \"0.1.0\"\n"), 0644); err != nil {
		t.Fatalf("writing lakefile: %v", err)
	}

	return svc.Router()
}

// perform sends one request built from a raw JSON literal.
func perform(router *gin.Engine, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// submitContract submits the fixture project and fails the test on anything
// but a 202.
func submitContract(t *testing.T, router *gin.Engine) []byte {
	t.Helper()

	w := perform(router, http.MethodPost, "/v1/projects",
		`{"repo_url":"`+contractRepo+`","commit":"`+contractCommit+`"}`, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("submit returned %d: %s", w.Code, w.Body.String())
	}
	return w.Body.Bytes()
}

// expectKeys asserts the response object carries exactly the given fields.
func expectKeys(t *testing.T, data []byte, want ...string) map[string]json.RawMessage {
	t.Helper()

	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("response is not a JSON object: %v\n%s", err, data)
	}
	got := make([]string, 0, len(m))
	for k := range m {
		got = append(got, k)
	}
	sort.Strings(got)
	sort.Strings(want)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("field set changed: got [%s], v0.1.0 promised [%s]",
			strings.Join(got, ","), strings.Join(want, ","))
	}
	return m
}

// jsonString unwraps one string field.
func jsonString(t *testing.T, raw json.RawMessage) string {
	t.Helper()
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		t.Fatalf("field is not a string: %s", raw)
	}
	return s
}

// TestV010_SubmitAcceptedShape pins the 202 body of POST /v1/projects.
func TestV010_SubmitAcceptedShape(t *testing.T) {
	router := newContractCatalog(t)

	body := submitContract(t, router)
	fields := expectKeys(t, body, "task_id", "status")
	if got := jsonString(t, fields["status"]); got != "queued" {
		t.Errorf("accepted status word changed: %q", got)
	}
	if jsonString(t, fields["task_id"]) == "" {
		t.Error("task_id is empty")
	}
}

// TestV010_ProjectStatusShape pins the status object returned by
// GET /v1/projects and embedded in GET /v1/projects/all.
func TestV010_ProjectStatusShape(t *testing.T) {
	router := newContractCatalog(t)
	submitContract(t, router)

	query := "/v1/projects?repo_url=" + contractRepo + "&commit=" + contractCommit
	w := perform(router, http.MethodGet, query, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status query returned %d: %s", w.Code, w.Body.String())
	}

	// paper_url only appears after a successful compilation.
	fields := expectKeys(t, w.Body.Bytes(),
		"repo_url", "commit", "has_valid_dependencies", "has_valid_proof", "has_valid_paper")
	if got := jsonString(t, fields["has_valid_dependencies"]); got != "valid" {
		t.Errorf("dependency validity word changed: %q", got)
	}
	if got := jsonString(t, fields["has_valid_proof"]); got != "unknown" {
		t.Errorf("unfinished proof validity word changed: %q", got)
	}

	// Drive compilation to success through the internal report contract.
	w = perform(router, http.MethodPost, "/internal/v1/status",
		`{"repo_url":"`+contractRepo+`","commit":"`+contractCommit+`","pipeline":"compilation","generation":1,"outcome":"success"}`,
		map[string]string{"Authorization": "Bearer " + contractToken})
	if w.Code != http.StatusOK {
		t.Fatalf("report returned %d: %s", w.Code, w.Body.String())
	}
	applied := expectKeys(t, w.Body.Bytes(), "applied")
	if string(applied["applied"]) != "true" {
		t.Errorf("report result changed: %s", w.Body.String())
	}

	w = perform(router, http.MethodGet, query, "", nil)
	fields = expectKeys(t, w.Body.Bytes(),
		"repo_url", "commit", "has_valid_dependencies", "has_valid_proof", "has_valid_paper", "paper_url")
	if got := jsonString(t, fields["paper_url"]); !strings.HasSuffix(got, "/main.pdf") {
		t.Errorf("paper URL shape changed: %q", got)
	}
}

// TestV010_DependenciesShape pins the dependency listing body, including
// that an empty set is an empty array, never null.
func TestV010_DependenciesShape(t *testing.T) {
	router := newContractCatalog(t)
	submitContract(t, router)

	w := perform(router, http.MethodGet,
		"/v1/projects/dependencies?repo_url="+contractRepo+"&commit="+contractCommit, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("dependency query returned %d: %s", w.Code, w.Body.String())
	}

	fields := expectKeys(t, w.Body.Bytes(), "repo_url", "commit", "dependencies")
	if string(fields["dependencies"]) != "[]" {
		t.Errorf("empty dependency set changed: %s", fields["dependencies"])
	}
}

// TestV010_ListShape pins the catalog listing envelope.
func TestV010_ListShape(t *testing.T) {
	router := newContractCatalog(t)
	submitContract(t, router)

	w := perform(router, http.MethodGet, "/v1/projects/all", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list returned %d: %s", w.Code, w.Body.String())
	}
	fields := expectKeys(t, w.Body.Bytes(), "projects")

	var projects []json.RawMessage
	if err := json.Unmarshal(fields["projects"], &projects); err != nil {
		t.Fatalf("projects is not an array: %v", err)
	}
	if len(projects) != 1 {
		t.Fatalf("expected the one submitted project, got %d", len(projects))
	}
	expectKeys(t, projects[0],
		"repo_url", "commit", "has_valid_dependencies", "has_valid_proof", "has_valid_paper")
}

// TestV010_DeleteShape pins the deletion body.
func TestV010_DeleteShape(t *testing.T) {
	router := newContractCatalog(t)
	submitContract(t, router)

	w := perform(router, http.MethodDelete, "/v1/projects",
		`{"repo_url":"`+contractRepo+`","commit":"`+contractCommit+`"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete returned %d: %s", w.Code, w.Body.String())
	}
	fields := expectKeys(t, w.Body.Bytes(), "deleted")
	if string(fields["deleted"]) != "true" {
		t.Errorf("delete result changed: %s", w.Body.String())
	}
}

// TestV010_ErrorShape pins that every rejection carries an "error" string.
// Extra context fields are allowed; removing or renaming "error" is not.
func TestV010_ErrorShape(t *testing.T) {
	router := newContractCatalog(t)

	cases := []struct {
		name string
		run  func() *httptest.ResponseRecorder
		want int
	}{
		{"malformed submit", func() *httptest.ResponseRecorder {
			return perform(router, http.MethodPost, "/v1/projects", `{"repo_url":42}`, nil)
		}, http.StatusBadRequest},
		{"unknown project status", func() *httptest.ResponseRecorder {
			return perform(router, http.MethodGet,
				"/v1/projects?repo_url=https://github.com/release/absent&commit="+contractCommit, "", nil)
		}, http.StatusNotFound},
		{"unauthenticated report", func() *httptest.ResponseRecorder {
			return perform(router, http.MethodPost, "/internal/v1/status", `{}`, nil)
		}, http.StatusUnauthorized},
	}

	for _, tc := range cases {
		w := tc.run()
		if w.Code != tc.want {
			t.Errorf("%s: status %d, want %d", tc.name, w.Code, tc.want)
			continue
		}
		var m map[string]json.RawMessage
		if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
			t.Errorf("%s: body is not a JSON object: %s", tc.name, w.Body.String())
			continue
		}
		raw, ok := m["error"]
		if !ok {
			t.Errorf("%s: no error field: %s", tc.name, w.Body.String())
			continue
		}
		if jsonString(t, raw) == "" {
			t.Errorf("%s: empty error message", tc.name)
		}
	}
}

// TestV010_VocabularyAccepted pins the pipeline and outcome words the
// report endpoint admits. Workers in the field send exactly these.
func TestV010_VocabularyAccepted(t *testing.T) {
	router := newContractCatalog(t)
	submitContract(t, router)

	auth := map[string]string{"Authorization": "Bearer " + contractToken}
	report := func(pipeline, outcome string) int {
		body := `{"repo_url":"` + contractRepo + `","commit":"` + contractCommit +
			`","pipeline":"` + pipeline + `","generation":1,"outcome":"` + outcome + `"}`
		return perform(router, http.MethodPost, "/internal/v1/status", body, auth).Code
	}

	if code := report("verification", "running"); code != http.StatusOK {
		t.Errorf("verification/running rejected: %d", code)
	}
	if code := report("verification", "success"); code != http.StatusOK {
		t.Errorf("verification/success rejected: %d", code)
	}
	if code := report("compilation", "fail"); code != http.StatusOK {
		t.Errorf("compilation/fail rejected: %d", code)
	}
	if code := report("typecheck", "success"); code != http.StatusBadRequest {
		t.Errorf("unknown pipeline word admitted: %d", code)
	}
	if code := report("verification", "done"); code != http.StatusBadRequest {
		t.Errorf("unknown outcome word admitted: %d", code)
	}
}
