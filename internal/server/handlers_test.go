package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/askdoc/config"
)

type fakeRunner struct {
	answers []string
	err     error
	gotURL  string
	gotQs   []string
}

func (r *fakeRunner) Run(_ context.Context, documentURL string, questions []string) ([]string, error) {
	r.gotURL = documentURL
	r.gotQs = questions
	if r.err != nil {
		return nil, r.err
	}
	return r.answers, nil
}

func newTestServer(runner Runner, token string) *httptest.Server {
	cfg := &config.Config{}
	cfg.Server.Listen = ":0"
	cfg.Server.APIToken = token
	return httptest.NewServer(New(cfg, runner).Handler())
}

func postRun(t *testing.T, url, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url+"/api/v1/qa/run", strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	return resp
}

func TestRunEndpoint(t *testing.T) {
	runner := &fakeRunner{answers: []string{"Thirty days.", "24 months."}}
	srv := newTestServer(runner, "secret-token")
	defer srv.Close()

	body := `{"documents": "https://example.com/policy.pdf", "questions": ["grace period?", "waiting period?"]}`
	resp := postRun(t, srv.URL, "secret-token", body)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out RunResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Answers) != 2 || out.Answers[1] != "24 months." {
		t.Errorf("unexpected answers: %v", out.Answers)
	}
	if runner.gotURL != "https://example.com/policy.pdf" || len(runner.gotQs) != 2 {
		t.Errorf("runner saw %q / %v", runner.gotURL, runner.gotQs)
	}
}

func TestRunEndpointAuth(t *testing.T) {
	srv := newTestServer(&fakeRunner{answers: []string{"x"}}, "secret-token")
	defer srv.Close()

	body := `{"documents": "https://example.com/p.pdf", "questions": ["q?"]}`

	resp := postRun(t, srv.URL, "", body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("missing token: status = %d, want 401", resp.StatusCode)
	}

	resp = postRun(t, srv.URL, "wrong-token", body)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", resp.StatusCode)
	}
	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := out["error"]; !ok {
		t.Error("error responses must be JSON with an error field")
	}
}

func TestRunEndpointValidation(t *testing.T) {
	srv := newTestServer(&fakeRunner{}, "")
	defer srv.Close()

	cases := []string{
		`{"questions": ["q?"]}`,
		`{"documents": "https://example.com/p.pdf"}`,
		`{"documents": "https://example.com/p.pdf", "questions": []}`,
		`not json`,
	}
	for _, body := range cases {
		resp := postRun(t, srv.URL, "", body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, resp.StatusCode)
		}
	}
}

func TestRunEndpointPipelineFailure(t *testing.T) {
	srv := newTestServer(&fakeRunner{err: errors.New("loading document: 404")}, "")
	defer srv.Close()

	resp := postRun(t, srv.URL, "", `{"documents": "https://example.com/gone.pdf", "questions": ["q?"]}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(&fakeRunner{}, "secret-token")
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz must not require auth, status = %d", resp.StatusCode)
	}
}
