package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("ROLEGATE_TEST_TOKEN", "abc123")

	path := filepath.Join(t.TempDir(), "rolegate.yaml")
	src := `version: "1"
data_dir: ${ROLEGATE_TEST_DIR:-/var/lib/rolegate}
log:
  level: debug
modules:
  store.sqlite: {}
  gateway.http:
    auth_token: ${ROLEGATE_TEST_TOKEN}
`
	if err := os.WriteFile(path, []byte(src), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Version != "1" || cfg.DataDir != "/var/lib/rolegate" || cfg.Log.Level != "debug" {
		t.Errorf("cfg = %+v", cfg)
	}

	node := cfg.Modules["gateway.http"]
	var gw struct {
		AuthToken string `yaml:"auth_token"`
	}
	if err := node.Decode(&gw); err != nil {
		t.Fatal(err)
	}
	if gw.AuthToken != "abc123" {
		t.Errorf("auth_token = %q", gw.AuthToken)
	}
}

func TestParse_UnresolvedVariables(t *testing.T) {
	_, err := Parse([]byte("version: ${ROLEGATE_UNSET_A}\nx: ${ROLEGATE_UNSET_B}\n"))
	if err == nil {
		t.Fatal("expected error")
	}
	for _, name := range []string{"ROLEGATE_UNSET_A", "ROLEGATE_UNSET_B"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q should mention %s", err, name)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error")
	}
}

func TestExpandVars(t *testing.T) {
	t.Parallel()

	env := map[string]string{"HOST": "example.org", "EMPTY": ""}
	lookup := func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	}
	tests := []struct {
		in      string
		want    string
		wantErr string
	}{
		{"url: https://${HOST}/x", "url: https://example.org/x", ""},
		{"v: ${EMPTY:-fallback}", "v: ", ""},
		{"v: ${UNSET:-fallback}", "v: fallback", ""},
		{"v: ${UNSET:-}", "v: ", ""},
		{"a: ${A}\nb: ${A}\nc: ${B}", "", "unresolved variables: A, B"},
		{"plain $HOST stays", "plain $HOST stays", ""},
	}
	for _, tt := range tests {
		got, err := expandVars([]byte(tt.in), lookup)
		if tt.wantErr != "" {
			if err == nil || err.Error() != tt.wantErr {
				t.Errorf("expandVars(%q) error = %v, want %q", tt.in, err, tt.wantErr)
			}
			continue
		}
		if err != nil || string(got) != tt.want {
			t.Errorf("expandVars(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestParse_Strict(t *testing.T) {
	t.Parallel()

	if _, err := Parse([]byte("version: \"1\"\nmodulez: {}\n")); err == nil {
		t.Error("unknown top-level key accepted")
	}
	cfg, err := Parse(nil)
	if err != nil || cfg.Version != "" {
		t.Errorf("Parse(empty) = %+v, %v", cfg, err)
	}
}
