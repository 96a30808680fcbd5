package config

import (
	"errors"
	"strings"
	"testing"
)

func TestExpand(t *testing.T) {
	env := map[string]string{
		"BURROW_DATA": "/srv/burrow",
		"HOOK_URL":    "https://hooks.example.com/burrow",
		"EMPTY":       "",
	}
	lookup := func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	}

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"set", "path: ${BURROW_DATA}", "path: /srv/burrow"},
		{"unset", "secret: ${BURROW_SECRET}", "secret: "},
		{"default when unset", "path: ${BURROW_ROOT:-/var/lib/burrow}", "path: /var/lib/burrow"},
		{"default ignored when set", "path: ${BURROW_DATA:-/var/lib/burrow}", "path: /srv/burrow"},
		{"default when empty", "level: ${EMPTY:-warn}", "level: warn"},
		{"empty default", "channel: ${NOTIFY_CHANNEL:-}", "channel: "},
		{"required and set", "url: ${HOOK_URL:?webhook endpoint}", "url: https://hooks.example.com/burrow"},
		{"several on one line", "${BURROW_DATA}|${HOOK_URL}", "/srv/burrow|https://hooks.example.com/burrow"},
		{"bare dollar untouched", "secret: pa$$word $HOME", "secret: pa$$word $HOME"},
		{"no placeholders", "storage:\n  backend: fs\n", "storage:\n  backend: fs\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := expand(tt.input, lookup)
			if err != nil {
				t.Fatalf("expand failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExpand_RequiredMissing(t *testing.T) {
	lookup := func(string) (string, bool) { return "", false }

	_, err := expand("url: ${HOOK_URL:?webhook endpoint}\nsecret: ${HOOK_SECRET:?}\n", lookup)

	var missing *MissingEnvError
	if !errors.As(err, &missing) {
		t.Fatalf("err = %v, want *MissingEnvError", err)
	}
	want := []string{"HOOK_URL (webhook endpoint)", "HOOK_SECRET"}
	if strings.Join(missing.Vars, ";") != strings.Join(want, ";") {
		t.Errorf("Vars = %q, want %q", missing.Vars, want)
	}
}

func TestLoad_ExpandsBurrowKeys(t *testing.T) {
	t.Setenv("BURROW_DATA", "")
	t.Setenv("HOOK_URL", "https://hooks.example.com/burrow")
	t.Setenv("HOOK_SECRET", "s3cret")

	cfg, err := Load(writeTemp(t, `storage:
  backend: lode-fs
  path: ${BURROW_DATA:-/var/lib/burrow}
notify:
  type: webhook
  url: ${HOOK_URL:?}
  secret: ${HOOK_SECRET}
  headers:
    X-Burrow-Host: ${BURROW_HOST:-local}
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertEqual(t, "storage.path", cfg.Storage.Path, "/var/lib/burrow")
	assertEqual(t, "notify.url", cfg.Notify.URL, "https://hooks.example.com/burrow")
	assertEqual(t, "notify.secret", cfg.Notify.Secret, "s3cret")
	assertEqual(t, "notify.headers", cfg.Notify.Headers["X-Burrow-Host"], "local")
}

func TestLoad_RequiredEnvMissing(t *testing.T) {
	t.Setenv("HOOK_URL", "")

	path := writeTemp(t, "notify:\n  type: webhook\n  url: ${HOOK_URL:?webhook endpoint}\n")
	_, err := Load(path)

	var missing *MissingEnvError
	if !errors.As(err, &missing) {
		t.Fatalf("err = %v, want *MissingEnvError", err)
	}
	if !strings.Contains(err.Error(), path) || !strings.Contains(err.Error(), "HOOK_URL") {
		t.Errorf("error should name the file and variable, got: %v", err)
	}
}
