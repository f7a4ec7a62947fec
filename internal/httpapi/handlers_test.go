package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"telecom-dialer/internal/audit"
	"telecom-dialer/internal/auth"
	"telecom-dialer/internal/calls"
	"telecom-dialer/internal/campaign"
	"telecom-dialer/internal/clock"
	"telecom-dialer/internal/config"
	"telecom-dialer/internal/credential"
	"telecom-dialer/internal/dialer"
	"telecom-dialer/internal/notify"
	"telecom-dialer/internal/outcome"
	"telecom-dialer/internal/permission"
	"telecom-dialer/internal/telephony"

	"github.com/gin-gonic/gin"
)

type testServer struct {
	t      *testing.T
	ctx    context.Context
	router *gin.Engine
	auth   *auth.Manager
	engine *dialer.Engine
	gw     *telephony.FakeGateway
	repo   *outcome.MemoryRepo
	trail  *audit.MemoryRepo
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	m, err := auth.NewManager(config.AuthConfig{
		JWTSecret:       "secret",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("auth: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	prompter := permission.NewReportedPrompter()
	gate := permission.NewGate(prompter)
	s := &testServer{
		t:     t,
		ctx:   ctx,
		auth:  m,
		gw:    telephony.NewFakeGateway(),
		repo:  outcome.NewMemoryRepo(),
		trail: audit.NewMemoryRepo(),
	}
	s.engine = dialer.New(dialer.Config{
		RegistrationTimeout: 10 * time.Second,
		SettleDelay:         2 * time.Second,
		RetryBackoff:        3 * time.Second,
		DefaultDisposition:  outcome.DispositionConnected,
	}, dialer.Deps{
		Clock:    clock.Fake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		Gate:     gate,
		Issuer:   credential.StaticIssuer{Identity: "agent-7", Secret: "amisecret"},
		Gateways: s.gw.Factory(),
		Sink:     outcome.NewService(s.repo),
		Notifier: &notify.Memory{},
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.engine.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	h := Handlers{
		Auth:     m,
		Dialer:   s.engine,
		Prompter: prompter,
		Gate:     gate,
		Audit:    audit.NewService(s.trail),
	}
	s.router = gin.New()
	h.Register(s.router, auth.RequireAccessToken(m))
	return s
}

func (s *testServer) token(role string) string {
	s.t.Helper()
	tok, err := s.auth.IssueAccess(time.Now(), "user-"+role, role)
	if err != nil {
		s.t.Fatalf("issue: %v", err)
	}
	return tok
}

func (s *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			s.t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) sync() {
	s.t.Helper()
	if err := s.engine.Sync(s.ctx); err != nil {
		s.t.Fatalf("sync: %v", err)
	}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func expectCode(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("expected %d, got %d: %s", status, w.Code, w.Body.String())
	}
	if code == "" {
		return
	}
	body := decode[map[string]string](t, w)
	if body["code"] != code {
		t.Fatalf("expected code %q, got %q", code, body["code"])
	}
}

// ready answers the microphone prompt and completes one registration.
func (s *testServer) ready(tok string) {
	s.t.Helper()
	expectCode(s.t, s.do(http.MethodPost, "/v1/audio/permission", tok, gin.H{"granted": true}), http.StatusOK, "")

	res := make(chan *httptest.ResponseRecorder, 1)
	go func() { res <- s.do(http.MethodPost, "/v1/device/initialize", tok, nil) }()
	deadline := time.Now().Add(2 * time.Second)
	for s.gw.Registers() == 0 {
		if time.Now().After(deadline) {
			s.t.Fatalf("timed out waiting for register")
		}
		time.Sleep(time.Millisecond)
	}
	s.gw.EmitRegistered()

	w := <-res
	expectCode(s.t, w, http.StatusOK, "")
	if st := decode[dialer.DeviceStatus](s.t, w); st.State != "ready" || !st.Permitted {
		s.t.Fatalf("unexpected device status %+v", st)
	}
}

func TestLogin(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/v1/auth/login", "", gin.H{"user_id": "agent-1", "role": "agent"})
	expectCode(t, w, http.StatusOK, "")
	pair := decode[auth.TokenPair](t, w)
	if _, err := s.auth.Verify(pair.AccessToken, auth.TokenTypeAccess, time.Now()); err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}

	expectCode(t, s.do(http.MethodPost, "/v1/auth/login", "", gin.H{"user_id": "agent-1", "role": "janitor"}), http.StatusBadRequest, "invalid_request")
	expectCode(t, s.do(http.MethodPost, "/v1/auth/login", "", gin.H{"user_id": "agent-1"}), http.StatusBadRequest, "invalid_request")
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)
	if w := s.do(http.MethodGet, "/v1/device", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if w := s.do(http.MethodGet, "/healthz", "", nil); w.Code != http.StatusOK {
		t.Fatalf("expected health 200, got %d", w.Code)
	}
}

func TestDevice_PermissionRequiredVsDenied(t *testing.T) {
	s := newTestServer(t)
	tok := s.token("agent")

	expectCode(t, s.do(http.MethodPost, "/v1/device/initialize", tok, nil), http.StatusForbidden, "permission_required")
	expectCode(t, s.do(http.MethodPost, "/v1/audio/permission", tok, gin.H{"granted": false}), http.StatusForbidden, "permission_denied")
	expectCode(t, s.do(http.MethodPost, "/v1/calls", tok, gin.H{"phone": "+14155550101"}), http.StatusConflict, "device_not_ready")
	if s.gw.Created() != 0 {
		t.Fatalf("no gateway should be built without permission")
	}
}

func TestManualCall_PlaceHangupAndSaveOutcome(t *testing.T) {
	s := newTestServer(t)
	tok := s.token("agent")
	s.ready(tok)

	expectCode(t, s.do(http.MethodPost, "/v1/calls", tok, gin.H{"phone": "not a number"}), http.StatusBadRequest, "invalid_request")

	w := s.do(http.MethodPost, "/v1/calls", tok, gin.H{"phone": "+14155550101"})
	expectCode(t, w, http.StatusCreated, "")
	placed := decode[calls.Session](t, w)
	if placed.State != calls.StateConnecting || placed.Target != "+14155550101" {
		t.Fatalf("unexpected session %+v", placed)
	}
	expectCode(t, s.do(http.MethodPost, "/v1/calls", tok, gin.H{"phone": "+14155550102"}), http.StatusConflict, "call_already_active")

	call := s.gw.LastCall()
	s.gw.Accept(call)
	s.sync()

	w = s.do(http.MethodGet, "/v1/calls/active", tok, nil)
	expectCode(t, w, http.StatusOK, "")
	type activeResponse struct {
		Active bool          `json:"active"`
		Call   calls.Session `json:"call"`
	}
	active := decode[activeResponse](t, w)
	if !active.Active || active.Call.State != calls.StateConnected {
		t.Fatalf("expected a connected call, got %+v", active)
	}

	expectCode(t, s.do(http.MethodGet, "/v1/calls/outcome", tok, nil), http.StatusNotFound, "no_pending_outcome")
	expectCode(t, s.do(http.MethodPost, "/v1/calls/hangup", tok, nil), http.StatusAccepted, "")
	if call.Disconnects() != 1 {
		t.Fatalf("expected one disconnect request, got %d", call.Disconnects())
	}
	s.gw.Disconnect(call, telephony.CauseNormal)
	s.sync()

	w = s.do(http.MethodGet, "/v1/calls/outcome", tok, nil)
	expectCode(t, w, http.StatusOK, "")
	if rec := decode[outcome.Record](t, w); rec.Disposition != outcome.DispositionConnected || rec.CallID != placed.ID {
		t.Fatalf("unexpected pending record %+v", rec)
	}

	expectCode(t, s.do(http.MethodPost, "/v1/calls/outcome", tok, gin.H{"disposition": "nonsense"}), http.StatusBadRequest, "invalid_request")
	w = s.do(http.MethodPost, "/v1/calls/outcome", tok, gin.H{"disposition": "voicemail", "notes": "left message"})
	expectCode(t, w, http.StatusCreated, "")
	if recs := s.repo.Records(); len(recs) != 1 || recs[0].Disposition != outcome.DispositionVoicemail || recs[0].Notes != "left message" {
		t.Fatalf("unexpected stored records %+v", recs)
	}

	var places int
	for _, e := range s.trail.Events() {
		if e.IPAddress == "" || e.ActorUserID != "user-agent" {
			t.Fatalf("audit event missing actor or ip: %+v", e)
		}
		if e.Action == "call.place" {
			places++
		}
	}
	if places != 3 {
		t.Fatalf("expected 3 call.place audit events, got %d", places)
	}
}

func TestCampaign_RolesAndLifecycle(t *testing.T) {
	s := newTestServer(t)
	agent := s.token("agent")
	sup := s.token("supervisor")

	body := gin.H{
		"id":           "camp-1",
		"start_paused": true,
		"targets": []gin.H{
			{"id": "t1", "phone": "+14155550101"},
			{"id": "t2", "phone": "+14155550102"},
		},
	}

	expectCode(t, s.do(http.MethodGet, "/v1/campaign", agent, nil), http.StatusNotFound, "no_campaign")
	if w := s.do(http.MethodPost, "/v1/campaign", agent, body); w.Code != http.StatusForbidden {
		t.Fatalf("agent should not start campaigns, got %d", w.Code)
	}
	expectCode(t, s.do(http.MethodPost, "/v1/campaign", sup, gin.H{"targets": []gin.H{}}), http.StatusBadRequest, "invalid_request")
	dup := gin.H{"targets": []gin.H{{"id": "t1", "phone": "+14155550101"}, {"id": "t1", "phone": "+14155550102"}}}
	expectCode(t, s.do(http.MethodPost, "/v1/campaign", sup, dup), http.StatusBadRequest, "invalid_request")
	noPhone := gin.H{"targets": []gin.H{{"id": "t1"}}}
	expectCode(t, s.do(http.MethodPost, "/v1/campaign", sup, noPhone), http.StatusBadRequest, "invalid_request")

	w := s.do(http.MethodPost, "/v1/campaign", sup, body)
	expectCode(t, w, http.StatusCreated, "")
	if snap := decode[campaign.Snapshot](t, w); snap.State != campaign.StatePaused || snap.Total != 2 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	expectCode(t, s.do(http.MethodPost, "/v1/campaign", sup, body), http.StatusConflict, "campaign_active")
	expectCode(t, s.do(http.MethodPost, "/v1/campaign/disposition", agent, gin.H{"disposition": "busy"}), http.StatusConflict, "invalid_campaign_state")

	w = s.do(http.MethodPost, "/v1/campaign/skip", agent, nil)
	expectCode(t, w, http.StatusOK, "")
	snap := decode[campaign.Snapshot](t, w)
	if snap.Cursor != 1 || snap.Targets[0].Status != campaign.StatusSkipped || snap.State != campaign.StatePaused {
		t.Fatalf("unexpected snapshot after skip %+v", snap)
	}

	w = s.do(http.MethodPost, "/v1/campaign/stop", sup, nil)
	expectCode(t, w, http.StatusOK, "")
	if snap := decode[campaign.Snapshot](t, w); snap.State != campaign.StateFinished {
		t.Fatalf("expected finished, got %s", snap.State)
	}
	if err := s.engine.WaitPersisted(s.ctx); err != nil {
		t.Fatalf("wait persisted: %v", err)
	}
	if recs := s.repo.Records(); len(recs) != 1 || recs[0].TargetID != "t1" || recs[0].Disposition != outcome.DispositionSkipped {
		t.Fatalf("unexpected records %+v", recs)
	}

	if w := s.do(http.MethodGet, "/v1/audit", agent, nil); w.Code != http.StatusForbidden {
		t.Fatalf("agent should not read the audit trail, got %d", w.Code)
	}
	w = s.do(http.MethodGet, "/v1/audit?limit=2", s.token("auditor"), nil)
	expectCode(t, w, http.StatusOK, "")
	type auditPage struct {
		Events []audit.Event `json:"events"`
	}
	trail := decode[auditPage](t, w)
	if len(trail.Events) != 2 || trail.Events[0].Action != "campaign.stop" {
		t.Fatalf("unexpected audit page %+v", trail.Events)
	}
}
