package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"presence/internal/auth"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestTokenIssue(t *testing.T) {
	t.Setenv("JWT_SIGNING_KEY", "ctl-key")
	t.Setenv("JWT_ISSUER", "presence-agent")

	out, err := execute(t, "token", "issue", "--sub", "42", "--name", "Asha", "--ttl", "1h")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	var res struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	claims, err := auth.Parse(res.Token, "ctl-key", "presence-agent")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id := claims.Identity(); id.Ref != "42" || id.Name != "Asha" {
		t.Fatalf("identity = %+v", id)
	}
}

func TestTokenIssueRequiresName(t *testing.T) {
	t.Setenv("JWT_SIGNING_KEY", "ctl-key")
	if _, err := execute(t, "token", "issue", "--sub", "42"); err == nil {
		t.Fatal("missing --name should fail")
	}
}

func TestMigrateSQLite(t *testing.T) {
	t.Setenv("SQLITE_PATH", filepath.Join(t.TempDir(), "presence.db"))

	out, err := execute(t, "migrate", "--backend", "sqlite")
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !strings.Contains(out, "sqlite: 1 migration(s) applied") {
		t.Fatalf("output = %q", out)
	}

	out, err = execute(t, "migrate", "--backend", "sqlite")
	if err != nil || !strings.Contains(out, "sqlite: 0 migration(s) applied") {
		t.Fatalf("rerun = %q, %v", out, err)
	}
}

func TestMigrateRejectsSupabase(t *testing.T) {
	if _, err := execute(t, "migrate", "--backend", "supabase"); err == nil {
		t.Fatal("supabase has no local migrations")
	}
}
