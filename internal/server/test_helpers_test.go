package server

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"tabletop-signup/internal/auth"
	"tabletop-signup/internal/config"
	"tabletop-signup/internal/dbtest"
	"tabletop-signup/internal/notify"
	"tabletop-signup/internal/polls"
	"tabletop-signup/internal/signup"
)

const testAdminToken = "let-me-in"

type testEnv struct {
	ts      *httptest.Server
	conn    *gorm.DB
	hub     *notify.Hub
	tableID uint
}

func newTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test; listen unavailable: %v", err)
	}
	ts := &httptest.Server{
		Listener: listener,
		Config:   &http.Server{Handler: handler},
	}
	ts.Start()
	t.Cleanup(ts.Close)
	return ts
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.AdminToken = testAdminToken
	if mutate != nil {
		mutate(&cfg)
	}
	conn := dbtest.Open(t)
	table := dbtest.CreateTable(t, conn, "Table 1", 2, 2)

	logs := zap.NewNop()
	hub := notify.NewHub(logs)
	dispatcher := notify.NewDispatcher(logs, time.Second, hub)
	t.Cleanup(dispatcher.Close)

	runner := dbtest.Runner(conn)
	authorizer := auth.NewOwnership(conn)
	queues := signup.NewManager(runner, authorizer, dispatcher, signup.TableDefaults{}, logs)
	arbiter := polls.NewArbiter(runner, authorizer, dispatcher, polls.NewMaterializer(queues), logs)

	srv := New(conn, queues, arbiter, hub, cfg, logs)
	return &testEnv{
		ts:      newTestServer(t, srv.Handler()),
		conn:    conn,
		hub:     hub,
		tableID: table.ID,
	}
}

func doRequest(t *testing.T, ts *httptest.Server, method, path string, payload any, headers ...string) *http.Response {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, ts.URL+path, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	t.Cleanup(func() {
		_ = resp.Body.Close()
	})
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func expectStatus(t *testing.T, resp *http.Response, status int) {
	t.Helper()
	if resp.StatusCode != status {
		t.Fatalf("expected status %d, got %d", status, resp.StatusCode)
	}
}

func createActivity(t *testing.T, env *testEnv, name string) uint {
	t.Helper()
	resp := doRequest(t, env.ts, http.MethodPost, "/api/activities", map[string]any{
		"table_id":   env.tableID,
		"name":       name,
		"host_name":  "Host",
		"host_email": "host@example.com",
	})
	expectStatus(t, resp, http.StatusCreated)
	body := decodeBody(t, resp)
	return uint(body["id"].(float64))
}

func joinActivity(t *testing.T, env *testEnv, activityID uint, name, email string) map[string]any {
	t.Helper()
	resp := doRequest(t, env.ts, http.MethodPost, activityPath(activityID)+"/join", map[string]any{
		"name":  name,
		"email": email,
	})
	expectStatus(t, resp, http.StatusCreated)
	return decodeBody(t, resp)["entry"].(map[string]any)
}

func idString(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

func activityPath(id uint) string {
	return "/api/activities/" + idString(id)
}

func pollPath(id uint) string {
	return "/api/polls/" + idString(id)
}

func idOf(value any) uint {
	return uint(value.(map[string]any)["id"].(float64))
}
