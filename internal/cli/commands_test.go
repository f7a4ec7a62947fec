package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"telecom-dialer/internal/auth"
	"telecom-dialer/internal/campaign"
	"telecom-dialer/internal/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "targets.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestTargetsCheck_Valid(t *testing.T) {
	path := writeFile(t, `
campaign: renewals
targets:
  - id: c-1
    name: Ada
    phone: "0415 555 0101"
  - name: Grace
    phone: "+1 (415) 555-0102"
`)
	out, err := execute(t, "targets", "check", path, "--country-code", "61")
	if err != nil {
		t.Fatalf("check: %v\n%s", err, out)
	}
	for _, want := range []string{"+614155550101", "+14155550102", "2 targets ready"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestTargetsCheck_ReportsInvalid(t *testing.T) {
	path := writeFile(t, `
targets:
  - phone: "+14155550101"
  - phone: "call me maybe"
`)
	out, err := execute(t, "targets", "check", path)
	if err == nil {
		t.Fatalf("expected an error for invalid targets")
	}
	if !strings.Contains(out, "1 of 2 targets will fail") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestTargetsCheck_RejectsBadFile(t *testing.T) {
	path := writeFile(t, "targets: []\n")
	if _, err := execute(t, "targets", "check", path); err == nil {
		t.Fatalf("expected an error for an empty target list")
	}
}

func TestToken_IssuesVerifiableAccessToken(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("JWT_ISSUER", "")
	t.Setenv("JWT_AUDIENCE", "")

	out, err := execute(t, "token", "--user", "agent-7", "--role", "supervisor", "--ttl", "1h")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	m, _ := auth.NewManager(config.AuthConfig{JWTSecret: "secret"})
	claims, err := m.Verify(strings.TrimSpace(out), auth.TokenTypeAccess, time.Now())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "agent-7" || claims.Role != "supervisor" {
		t.Fatalf("unexpected claims %+v", claims)
	}

	if _, err := execute(t, "token", "--user", "agent-7", "--role", "janitor"); err == nil {
		t.Fatalf("expected unknown role to fail")
	}
}

func TestRun_RequiresFile(t *testing.T) {
	if _, err := execute(t, "run"); err == nil {
		t.Fatalf("expected missing --file to fail")
	}
}

func TestRenderOutcomes(t *testing.T) {
	var buf bytes.Buffer
	renderOutcomes(&buf, campaign.Snapshot{
		ID:    "camp-1",
		Total: 2,
		Targets: []campaign.Target{
			{ID: "c-1", Phone: "+14155550101", Status: campaign.StatusConnected, CallID: "call-1", Notes: "renewed"},
			{ID: "c-2", Phone: "12", Status: campaign.StatusFailed, Error: "telephony: invalid phone number"},
		},
	})
	out := buf.String()
	for _, want := range []string{"connected", "call-1", "renewed", "failed", "invalid phone number"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in table:\n%s", want, out)
		}
	}
}
