package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"

	"gateline/internal/config"
	"gateline/internal/db"
	"gateline/internal/engine"
	"gateline/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("client-1")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	if _, err := e.CreateClient(context.Background(), "client-1", "Client One", "tester"); err != nil {
		t.Fatalf("create client: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:              "test-secret",
			AllowLegacyActorHeader: true,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(testSrv.Close)
	return testSrv
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func asActor(actorID string) map[string]string {
	return map[string]string{"X-Actor-Id": actorID}
}

func decodeBody(t *testing.T, data []byte, out any) {
	t.Helper()
	if err := json.Unmarshal(data, out); err != nil {
		t.Fatalf("decode response %s: %v", string(data), err)
	}
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decodeBody(t, data, &envelope)
	return envelope.Error.Code
}

func createAssessment(t *testing.T, ts *testServer, name string) string {
	t.Helper()
	res, data := doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v0/assessments", map[string]any{
		"client_id": "client-1",
		"name":      name,
	}, asActor("tester"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create assessment: status %d body %s", res.StatusCode, string(data))
	}
	var a struct {
		ID string `json:"id"`
	}
	decodeBody(t, data, &a)
	if a.ID == "" {
		t.Fatalf("assessment id missing in %s", string(data))
	}
	return a.ID
}

var approvalSequence = []struct {
	role      string
	validator string
}{
	{"area_lead", "val-area"},
	{"technical_lead_primary", "val-tech-1"},
	{"technical_lead_secondary", "val-tech-2"},
	{"cross_functional_lead", "val-cross"},
	{"executive_sponsor", "val-exec"},
	{"partner_executive", "val-partner"},
}

func submitApproval(t *testing.T, ts *testServer, assessmentID, role, validator string) (int, []byte) {
	t.Helper()
	res, data := doJSON(t, ts.Client(), http.MethodPost,
		fmt.Sprintf("%s/v0/assessments/%s/signoff/validations", ts.URL, assessmentID),
		map[string]any{"role": role, "decision": "approved", "validator_id": validator},
		asActor(validator))
	return res.StatusCode, data
}

func TestHealthRequiresNoAuth(t *testing.T) {
	ts := newTestServer(t)
	res, data := doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: status %d body %s", res.StatusCode, string(data))
	}
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	ts := newTestServer(t)
	res, data := doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v0/clients", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d body %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "unauthorized" {
		t.Fatalf("expected code unauthorized, got %q", code)
	}
}

func TestDevLoginAndMe(t *testing.T) {
	ts := newTestServer(t)
	res, data := doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v0/auth/dev/login",
		map[string]any{"actor_id": "dev-user"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login: status %d body %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	decodeBody(t, data, &login)
	if login.Token == "" {
		t.Fatalf("empty token in %s", string(data))
	}

	res, data = doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v0/me", nil,
		map[string]string{"Authorization": "Bearer " + login.Token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me: status %d body %s", res.StatusCode, string(data))
	}
	var me WhoAmIResponse
	decodeBody(t, data, &me)
	if me.ActorID != "dev-user" || me.Source != "jwt" {
		t.Fatalf("unexpected principal %+v", me)
	}
}

func TestSignoffFlowOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	assessmentID := createAssessment(t, ts, "Pilot")

	res, data := doJSON(t, ts.Client(), http.MethodPut,
		fmt.Sprintf("%s/v0/assessments/%s/steps", ts.URL, assessmentID),
		map[string]any{"step_id": "step-01", "fit_status": "FIT"},
		asActor("tester"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("upsert step: status %d body %s", res.StatusCode, string(data))
	}

	for i, sub := range approvalSequence {
		status, body := submitApproval(t, ts, assessmentID, sub.role, sub.validator)
		if status != http.StatusOK {
			t.Fatalf("submission %d (%s): status %d body %s", i, sub.role, status, string(body))
		}
		var out SubmitValidationResponse
		decodeBody(t, body, &out)
		// The primary technical approval leaves the stage open for the
		// secondary validator.
		if sub.role == "technical_lead_primary" {
			if out.Completed {
				t.Fatalf("technical stage completed with one of two approvals")
			}
			continue
		}
		if !out.Completed {
			t.Fatalf("submission %d (%s): stage not completed, at %s", i, sub.role, out.Stage)
		}
	}

	res, data = doJSON(t, ts.Client(), http.MethodGet,
		fmt.Sprintf("%s/v0/assessments/%s/signoff", ts.URL, assessmentID), nil, asActor("tester"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get signoff: status %d body %s", res.StatusCode, string(data))
	}
	var view struct {
		Process struct {
			Stage string `json:"stage"`
		} `json:"process"`
		Records []json.RawMessage `json:"records"`
	}
	decodeBody(t, data, &view)
	if view.Process.Stage != "completed" {
		t.Fatalf("expected completed, got %s", view.Process.Stage)
	}
	if len(view.Records) != len(approvalSequence) {
		t.Fatalf("expected %d records, got %d", len(approvalSequence), len(view.Records))
	}

	// Completion triggers an automatic snapshot.
	res, data = doJSON(t, ts.Client(), http.MethodGet,
		fmt.Sprintf("%s/v0/assessments/%s/snapshots", ts.URL, assessmentID), nil, asActor("tester"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list snapshots: status %d body %s", res.StatusCode, string(data))
	}
	var snaps []SnapshotResponse
	decodeBody(t, data, &snaps)
	if len(snaps) != 1 || snaps[0].Version != 1 {
		t.Fatalf("expected one v1 snapshot, got %+v", snaps)
	}
}

func TestWrongStageSubmissionReturns422(t *testing.T) {
	ts := newTestServer(t)
	assessmentID := createAssessment(t, ts, "Pilot")

	status, data := submitApproval(t, ts, assessmentID, "executive_sponsor", "val-exec")
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d body %s", status, string(data))
	}
	if code := errorCode(t, data); code != "precondition_failed" {
		t.Fatalf("expected code precondition_failed, got %q", code)
	}
}

func TestUnknownAssessmentReturns404(t *testing.T) {
	ts := newTestServer(t)
	res, data := doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v0/assessments/nope", nil, asActor("tester"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d body %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "not_found" {
		t.Fatalf("expected code not_found, got %q", code)
	}
}

func TestSnapshotCreateAndVerify(t *testing.T) {
	ts := newTestServer(t)
	assessmentID := createAssessment(t, ts, "Pilot")

	doJSON(t, ts.Client(), http.MethodPut,
		fmt.Sprintf("%s/v0/assessments/%s/scope", ts.URL, assessmentID),
		map[string]any{"item_id": "scope-1", "selected": true, "relevance": "core"},
		asActor("tester"))

	res, data := doJSON(t, ts.Client(), http.MethodPost,
		fmt.Sprintf("%s/v0/assessments/%s/snapshots", ts.URL, assessmentID),
		map[string]any{"reason": "baseline"}, asActor("tester"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create snapshot: status %d body %s", res.StatusCode, string(data))
	}
	var snap SnapshotResponse
	decodeBody(t, data, &snap)
	if snap.Version != 1 || snap.Fingerprint == "" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	res, data = doJSON(t, ts.Client(), http.MethodGet,
		fmt.Sprintf("%s/v0/assessments/%s/snapshots/1/verify", ts.URL, assessmentID), nil, asActor("tester"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("verify snapshot: status %d body %s", res.StatusCode, string(data))
	}
	var verdict VerifySnapshotResponse
	decodeBody(t, data, &verdict)
	if !verdict.Valid || verdict.Fingerprint != snap.Fingerprint {
		t.Fatalf("unexpected verify result %+v", verdict)
	}
}

func TestDuplicatePhaseLinkRejected(t *testing.T) {
	ts := newTestServer(t)
	phase1 := createAssessment(t, ts, "Phase 1")
	phase2 := createAssessment(t, ts, "Phase 2")

	linkBody := map[string]any{
		"phase1_assessment_id": phase1,
		"phase2_assessment_id": phase2,
		"client_id":            "client-1",
	}
	res, data := doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v0/phase-links", linkBody, asActor("tester"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("link phases: status %d body %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v0/phase-links", linkBody, asActor("tester"))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 on duplicate link, got %d body %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "precondition_failed" {
		t.Fatalf("expected code precondition_failed, got %q", code)
	}
}
