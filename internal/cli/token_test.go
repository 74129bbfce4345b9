package cli

import (
	"strings"
	"testing"

	"github.com/99designs/keyring"

	"github.com/valter-silva-au/duealert/internal/integration"
)

func useTestCredentials(t *testing.T) {
	t.Helper()
	orig, origKey := Credentials, tokenKey
	t.Cleanup(func() { Credentials, tokenKey = orig, origKey })
	Credentials = integration.NewCredentialsWith(keyring.NewArrayKeyring(nil))
	tokenKey = ""
}

func TestTokenSet_FromArgAndStdin(t *testing.T) {
	useTestServices(t, nil)
	useTestCredentials(t)

	out := capture(t, tokenSetCmd)
	if err := tokenSetCmd.RunE(tokenSetCmd, []string{"abc"}); err != nil {
		t.Fatalf("token set: %v", err)
	}
	if !strings.Contains(out.String(), `"backend-token"`) {
		t.Errorf("output = %q", out.String())
	}
	if v, err := Credentials.Get("backend-token"); err != nil || v != "abc" {
		t.Fatalf("stored = %q, %v", v, err)
	}

	tokenSetCmd.SetIn(strings.NewReader("  from-stdin \n"))
	defer tokenSetCmd.SetIn(nil)
	tokenKey = "other"
	if err := tokenSetCmd.RunE(tokenSetCmd, nil); err != nil {
		t.Fatalf("token set from stdin: %v", err)
	}
	if v, _ := Credentials.Get("other"); v != "from-stdin" {
		t.Errorf("stdin token = %q", v)
	}
}

func TestTokenSet_Empty(t *testing.T) {
	useTestServices(t, nil)
	useTestCredentials(t)
	capture(t, tokenSetCmd)

	if err := tokenSetCmd.RunE(tokenSetCmd, []string{"   "}); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestTokenClear(t *testing.T) {
	useTestServices(t, nil)
	useTestCredentials(t)
	_ = Credentials.Set("backend-token", "abc")

	capture(t, tokenClearCmd)
	if err := tokenClearCmd.RunE(tokenClearCmd, nil); err != nil {
		t.Fatalf("token clear: %v", err)
	}
	if _, err := Credentials.Get("backend-token"); err == nil {
		t.Error("token still present after clear")
	}
}

func TestResolvedTokenKey(t *testing.T) {
	useTestServices(t, nil)
	useTestCredentials(t)

	Config.Backend.TokenKey = "from-config"
	if got := resolvedTokenKey(); got != "from-config" {
		t.Errorf("resolvedTokenKey = %q, want from-config", got)
	}
	tokenKey = "from-flag"
	if got := resolvedTokenKey(); got != "from-flag" {
		t.Errorf("resolvedTokenKey = %q, want from-flag", got)
	}
	Config = nil
	tokenKey = ""
	if got := resolvedTokenKey(); got != "backend-token" {
		t.Errorf("resolvedTokenKey = %q, want backend-token", got)
	}
}
