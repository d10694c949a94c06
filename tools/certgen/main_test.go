package main

import (
	"crypto/tls"
	"path/filepath"
	"testing"

	"github.com/atinyakov/grillzstudio/internal/certgen"
)

func TestRun(t *testing.T) {
	dir := t.TempDir()
	if err := run(dir, []string{" localhost ", "", "127.0.0.1"}); err != nil {
		t.Fatalf("run error: %v", err)
	}
	if _, _, err := certgen.LoadCACredentials(filepath.Join(dir, "ca.crt"), filepath.Join(dir, "ca.key")); err != nil {
		t.Errorf("ca not loadable: %v", err)
	}
	if _, err := tls.LoadX509KeyPair(filepath.Join(dir, "server.crt"), filepath.Join(dir, "server.key")); err != nil {
		t.Errorf("server pair not loadable: %v", err)
	}
}

func TestRun_NoHosts(t *testing.T) {
	if err := run(t.TempDir(), []string{" "}); err == nil {
		t.Error("expected error without hosts")
	}
}
