package config

import (
	"os"
	"reflect"
	"strings"
	"testing"
)

func entryMap(entries []Entry) map[string]Entry {
	out := make(map[string]Entry, len(entries))
	for _, e := range entries {
		out[e.Key] = e
	}
	return out
}

func TestEntries(t *testing.T) {
	cfg := Defaults()
	cfg.DataDir = "/srv/appforge"
	cfg.Storage.DSN = "/var/lib/appforge/secret.db"
	cfg.Recognition.Workers = 8

	entries, err := Entries(cfg, true)
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}
	if entries[0].Key != "data_dir" {
		t.Errorf("expected entries in file order, first is %q", entries[0].Key)
	}
	byKey := entryMap(entries)

	dsn := byKey["storage.dsn"]
	if dsn.Value != "***t.db" || !dsn.Secret || !dsn.Changed {
		t.Errorf("unexpected storage.dsn entry %+v", dsn)
	}
	workers := byKey["recognition.workers"]
	if workers.Value != 8 || workers.Default != 4 || !workers.Changed {
		t.Errorf("unexpected recognition.workers entry %+v", workers)
	}
	if idle := byKey["sessions.idle_timeout"]; idle.Value != "30m0s" || idle.Changed {
		t.Errorf("unexpected sessions.idle_timeout entry %+v", idle)
	}
	if origins := byKey["http.cors_origins"]; !reflect.DeepEqual(origins.Value, []any{"*"}) {
		t.Errorf("expected cors_origins as a list, got %#v", origins.Value)
	}
	if _, ok := byKey["http.rate_limit.burst"]; !ok {
		t.Error("nested rate_limit keys missing")
	}
	if _, ok := byKey["storage"]; ok {
		t.Error("sections must not be listed as entries")
	}

	unmasked, err := Entries(cfg, false)
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}
	if v := entryMap(unmasked)["storage.dsn"].Value; v != "/var/lib/appforge/secret.db" {
		t.Errorf("expected unmasked storage.dsn, got %v", v)
	}
}

func TestMaskSecret(t *testing.T) {
	cases := map[string]any{
		"":                                   "",
		"ab":                                 "***ab",
		"abcd":                               "***abcd",
		"file:/srv/appforge.db?cache=shared": "***ared",
	}
	for in, want := range cases {
		if got := maskSecret(in); got != want {
			t.Errorf("mask(%q): expected %q, got %v", in, want, got)
		}
	}
	if got := maskSecret(42); got != 42 {
		t.Errorf("non-string values pass through, got %v", got)
	}
	if !IsSecretKey("storage.dsn") || IsSecretKey("storage.driver") {
		t.Error("only storage.dsn is secret")
	}
}

func TestSetValue_KeepsComments(t *testing.T) {
	path := tempConfigPath(t)
	content := "# appforge settings\nlog_level: info\nrecognition:\n  # parallel recognizers\n  workers: 4\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := SetValue(path, "recognition.workers", "6"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	if err := SetValue(path, "codegen.default_target", "go-chi"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	for _, want := range []string{"# appforge settings", "# parallel recognizers", "workers: 6", "default_target: go-chi"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in\n%s", want, text)
		}
	}
	if strings.Contains(text, "data_dir") {
		t.Errorf("unset keys must not be written:\n%s", text)
	}
}

func TestSetValue_TypedValues(t *testing.T) {
	path := tempConfigPath(t)
	writeTestConfig(t, path, Defaults())

	if err := SetValue(path, "http.cors_origins", "https://a.example, https://b.example"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	if err := SetValue(path, "http.listen", "8480"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	if err := SetValue(path, "http.rate_limit.requests_per_second", "2.5"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	want := []string{"https://a.example", "https://b.example"}
	if !reflect.DeepEqual(cfg.HTTP.CORSOrigins, want) {
		t.Errorf("expected cors_origins %v, got %v", want, cfg.HTTP.CORSOrigins)
	}
	if cfg.HTTP.Listen != "8480" {
		t.Errorf("expected listen=8480, got %q", cfg.HTTP.Listen)
	}
	if cfg.HTTP.RateLimit.RequestsPerSecond != 2.5 {
		t.Errorf("expected requests_per_second=2.5, got %v", cfg.HTTP.RateLimit.RequestsPerSecond)
	}

	v, err := GetValue(path, "http.listen")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != "8480" {
		t.Errorf("listen must stay a string, got %v (%T)", v, v)
	}

	if err := SetValue(path, "http.cors_origins", "[c.example, d.example]"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	v, err = GetValue(path, "http.cors_origins")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if !reflect.DeepEqual(v, []any{"c.example", "d.example"}) {
		t.Errorf("expected flow list value, got %#v", v)
	}

	if err := SetValue(path, "recognition.watch_policy", "maybe"); err == nil {
		t.Error("expected error for non-boolean watch_policy")
	}
}

func TestSetValue_NullSection(t *testing.T) {
	path := tempConfigPath(t)
	if err := os.WriteFile(path, []byte("storage:\nlog_level: info\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := SetValue(path, "storage.driver", "sqlite"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Storage.Driver != DriverSQLite {
		t.Errorf("expected driver=sqlite, got %q", cfg.Storage.Driver)
	}

	if err := os.WriteFile(path, []byte("storage: sqlite\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := SetValue(path, "storage.driver", "file"); err == nil || err.Error() != "storage is not a section" {
		t.Errorf("expected section error, got %v", err)
	}
}
