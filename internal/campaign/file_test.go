package campaign

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"telecom-dialer/internal/outcome"
)

func TestParseFile(t *testing.T) {
	data := []byte(`
campaign: spring-renewals
default_disposition: voicemail
targets:
  - id: c-1
    name: Ada
    phone: "+14155550101"
  - name: Grace
    phone: "415 555 0102"
    notes: prefers mornings
`)
	f, err := ParseFile(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Campaign != "spring-renewals" || f.DefaultDisposition != outcome.DispositionVoicemail {
		t.Fatalf("unexpected header: %+v", f)
	}
	if len(f.Targets) != 2 || f.Targets[1].ID != "2" || f.Targets[1].Notes != "prefers mornings" {
		t.Fatalf("unexpected targets: %+v", f.Targets)
	}
}

func TestParseFile_Errors(t *testing.T) {
	cases := map[string]string{
		"empty":       "campaign: x\n",
		"duplicate":   "targets:\n  - {id: a, phone: '1'}\n  - {id: a, phone: '2'}\n",
		"no phone":    "targets:\n  - {id: a}\n",
		"unknown key": "targets:\n  - {id: a, phone: '1', colour: red}\n",
		"bad default": "default_disposition: maybe\ntargets:\n  - {phone: '1'}\n",
		"malformed":   "targets: [",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseFile([]byte(in)); !errors.Is(err, ErrInvalidFile) {
				t.Fatalf("expected invalid file, got %v", err)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "targets.yaml")
	if err := os.WriteFile(path, []byte("targets:\n  - phone: '+14155550101'\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	f, err := LoadFile(path)
	if err != nil || len(f.Targets) != 1 {
		t.Fatalf("load: %v %+v", err, f)
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for a missing file")
	}
}
