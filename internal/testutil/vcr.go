// Package testutil holds helpers shared by package tests.
package testutil

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/dnaeon/go-vcr.v2/cassette"
	"gopkg.in/dnaeon/go-vcr.v2/recorder"
)

// WebhookRecorder replays downstream webhook interactions from
// testdata/fixtures/<name>.yaml. Set VCR_MODE=record to capture against the
// real URL instead. The recorder is stopped when the test ends.
func WebhookRecorder(t *testing.T, name string) *recorder.Recorder {
	t.Helper()

	mode := recorder.ModeReplaying
	if os.Getenv("VCR_MODE") == "record" {
		mode = recorder.ModeRecording
	}

	r, err := recorder.NewAsMode(filepath.Join("testdata", "fixtures", name), mode, nil)
	if err != nil {
		t.Fatalf("Failed to create VCR recorder: %v", err)
	}

	// Forwarded bodies carry a fresh requestId, so only the target is matched.
	r.SetMatcher(func(r *http.Request, i cassette.Request) bool {
		return r.Method == i.Method &&
			r.URL.String() == i.URL &&
			r.Header.Get("Content-Type") == i.Headers.Get("Content-Type")
	})

	// Recorded cassettes must never carry webhook credentials.
	r.AddFilter(func(i *cassette.Interaction) error {
		i.Request.Headers.Del("Authorization")
		i.Request.Headers.Del("X-Make-Apikey")
		return nil
	})

	t.Cleanup(func() {
		if err := r.Stop(); err != nil {
			t.Errorf("Failed to stop VCR recorder: %v", err)
		}
	})

	return r
}

// RecorderClient returns an HTTP client that sends through r.
func RecorderClient(r *recorder.Recorder) *http.Client {
	return &http.Client{Transport: r}
}
