package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sparkcreatives/spark-portal/internal/config"
	"github.com/sparkcreatives/spark-portal/internal/storage/local"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Server.BaseURL = "http://localhost:8080"
	cfg.Receipts.PathPrefix = "receipts"
	cfg.Receipts.StatementPrefix = "statements"
	cfg.Reconciliation.PathPrefix = "reconciliation"
	cfg.Storage.Local.BasePath = t.TempDir()
	cfg.Storage.Local.SigningKey = "publish-test-key"
	return cfg
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "artifact")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRun_PublishesUnderConfiguredKeys(t *testing.T) {
	cfg := testConfig(t)
	store, err := local.New(&cfg.Storage.Local, cfg.Server.BaseURL)
	if err != nil {
		t.Fatalf("local.New: %v", err)
	}

	tests := []struct {
		args    []string
		wantKey string
	}{
		{[]string{"document", "spark/governance/IRS_Letter.pdf"}, "spark/governance/IRS_Letter.pdf"},
		{[]string{"receipt", "D-100"}, "receipts/D-100.pdf"},
		{[]string{"statement", "donor-7", "2025"}, "statements/2025/donor-7.pdf"},
		{[]string{"ledger", "square"}, "reconciliation/donations.csv"},
		{[]string{"ledger", "internal"}, "reconciliation/internal_donations.csv"},
	}
	for _, tt := range tests {
		t.Run(tt.wantKey, func(t *testing.T) {
			content := "contents of " + tt.wantKey
			var out bytes.Buffer
			args := append(append([]string{}, tt.args...), writeFile(t, content))
			if err := run(context.Background(), cfg, store, args, &out); err != nil {
				t.Fatalf("run(%v) error: %v", tt.args, err)
			}
			if !strings.HasPrefix(out.String(), tt.wantKey+"\t") {
				t.Errorf("output %q does not start with the key", out.String())
			}
			if !strings.Contains(out.String(), "sha256:") {
				t.Errorf("output %q has no checksum", out.String())
			}

			rc, err := store.Download(context.Background(), tt.wantKey)
			if err != nil {
				t.Fatalf("Download(%q): %v", tt.wantKey, err)
			}
			defer rc.Close()
			got, _ := io.ReadAll(rc)
			if string(got) != content {
				t.Errorf("stored %q, want %q", got, content)
			}
		})
	}
}

func TestRun_Rejections(t *testing.T) {
	cfg := testConfig(t)
	store, err := local.New(&cfg.Storage.Local, cfg.Server.BaseURL)
	if err != nil {
		t.Fatalf("local.New: %v", err)
	}
	file := writeFile(t, "x")

	tests := []struct {
		name string
		args []string
	}{
		{"no command", nil},
		{"unknown command", []string{"banner", file}},
		{"invalid donation id", []string{"receipt", "../D-1", file}},
		{"invalid year", []string{"statement", "donor-7", "25", file}},
		{"unknown ledger", []string{"ledger", "paypal", file}},
		{"traversal key", []string{"document", "../etc/passwd", file}},
		{"missing file", []string{"receipt", "D-1", filepath.Join(t.TempDir(), "nope.pdf")}},
		{"wrong arity", []string{"statement", "donor-7", file}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := run(context.Background(), cfg, store, tt.args, io.Discard); err == nil {
				t.Errorf("run(%v) = nil, want error", tt.args)
			}
		})
	}
}
