package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sparkcreatives/spark-portal/internal/api/webhooks"
)

func TestRun_SignsStdin(t *testing.T) {
	body := `{"event_id":"evt-1"}`
	var out bytes.Buffer
	err := run([]string{"-key", "k", "-url", "https://portal.example.org/api/v1/webhooks/square"}, strings.NewReader(body), &out)
	if err != nil {
		t.Fatalf("run() error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("output = %q, want two header lines", out.String())
	}
	want := webhooks.SignatureHeader + ": " + webhooks.Sign("k", "https://portal.example.org/api/v1/webhooks/square", []byte(body))
	if lines[0] != want {
		t.Errorf("signature line = %q, want %q", lines[0], want)
	}
	if !strings.HasPrefix(lines[1], webhooks.TimestampHeader+": ") {
		t.Errorf("timestamp line = %q", lines[1])
	}
}

func TestRun_RequiresKeyAndURL(t *testing.T) {
	t.Setenv("SPARK_WEBHOOKS_SQUARE_SIGNATURE_KEY", "")
	t.Setenv("SPARK_WEBHOOKS_SQUARE_NOTIFICATION_URL", "")
	if err := run(nil, strings.NewReader("{}"), &bytes.Buffer{}); err == nil {
		t.Error("run() = nil, want error")
	}
}
