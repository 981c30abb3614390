package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeDefaults(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cli.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write defaults: %v", err)
	}
	return path
}

func TestLoadCLIDefaultsMissingFileIsEmpty(t *testing.T) {
	d, err := loadCLIDefaults(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("missing file errored: %v", err)
	}
	if d.Target != "" || d.Retries != nil || d.Shell != nil {
		t.Fatalf("defaults not empty: %+v", d)
	}
}

func TestLoadCLIDefaultsOnlyDefinedKeys(t *testing.T) {
	path := writeDefaults(t, `
target = "web-1"
retries = 2
retry_delay = "500ms"
nothrow = true
`)
	d, err := loadCLIDefaults(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if d.Target != "web-1" {
		t.Fatalf("target=%q", d.Target)
	}
	if d.Retries == nil || *d.Retries != 2 {
		t.Fatalf("retries=%v", d.Retries)
	}
	if d.RetryDelay != 500*time.Millisecond {
		t.Fatalf("retry_delay=%v", d.RetryDelay)
	}
	if d.NoThrow == nil || !*d.NoThrow {
		t.Fatalf("nothrow=%v", d.NoThrow)
	}
	// Keys absent from the file stay unset rather than zero-valued.
	if d.Shell != nil || d.Jitter != nil || d.Timeout != 0 {
		t.Fatalf("undefined keys leaked: %+v", d)
	}
}

func TestLoadCLIDefaultsRejectsBadDuration(t *testing.T) {
	path := writeDefaults(t, `timeout = "whenever"`)
	if _, err := loadCLIDefaults(path); err == nil {
		t.Fatalf("bad duration accepted")
	}
}

func TestApplyCLIDefaultsRespectsExplicitFlags(t *testing.T) {
	cmd := newRunCmd()
	if err := cmd.Flags().Set("retries", "9"); err != nil {
		t.Fatalf("set flag: %v", err)
	}

	two := 2
	yes := true
	flags := runFlags{retries: 9, retryDelay: 250 * time.Millisecond}
	applyCLIDefaults(cmd, &flags, cliDefaults{
		Target:     "web-1",
		Retries:    &two,
		Jitter:     &yes,
		RetryDelay: time.Second,
	})

	if flags.retries != 9 {
		t.Fatalf("explicit --retries overridden: %d", flags.retries)
	}
	if flags.target != "web-1" {
		t.Fatalf("target default not applied: %q", flags.target)
	}
	if flags.retryDelay != time.Second {
		t.Fatalf("retry delay default not applied: %v", flags.retryDelay)
	}
	if !flags.jitter {
		t.Fatalf("jitter default not applied")
	}
}

func TestParseEnv(t *testing.T) {
	env, err := parseEnv([]string{"A=1", "B=two words"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if env["A"] != "1" || env["B"] != "two words" {
		t.Fatalf("env=%v", env)
	}
	if _, err := parseEnv([]string{"NOEQUALS"}); err == nil {
		t.Fatalf("malformed entry accepted")
	}
	if _, err := parseEnv([]string{"=value"}); err == nil {
		t.Fatalf("empty key accepted")
	}
	if env, err := parseEnv(nil); err != nil || env != nil {
		t.Fatalf("empty input: %v %v", env, err)
	}
}
