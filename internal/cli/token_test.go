package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"live-quiz-service/internal/auth"
)

func TestTokenCommandMintsValidToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("auth:\n  jwt_secret: cli-secret\n  token_ttl: 1h\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("JWT_SECRET", "")

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"token", "--config", path, "--user", "7", "--name", "Dana"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("token command: %v", err)
	}

	who, err := auth.NewJWTService("cli-secret", time.Hour).Validate(strings.TrimSpace(out.String()))
	if err != nil {
		t.Fatalf("validate minted token: %v", err)
	}
	if who.UserID != 7 || who.DisplayName != "Dana" {
		t.Fatalf("unexpected identity %+v", who)
	}
}

func TestTokenCommandRequiresUser(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"token", "--config", filepath.Join(t.TempDir(), "none.yaml")})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected an error without --user")
	}
}
