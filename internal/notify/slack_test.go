package notify

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/johndauphine/db-search-replace/internal/config"
)

func newTestServer(t *testing.T, status int) (*httptest.Server, *[]SlackMessage) {
	t.Helper()
	var got []SlackMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg SlackMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			t.Errorf("decode: %v", err)
		}
		got = append(got, msg)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestDisabledNotifierSendsNothing(t *testing.T) {
	srv, got := newTestServer(t, http.StatusOK)
	n := New(&config.SlackConfig{WebhookURL: srv.URL})

	if err := n.JobStarted("job", "db", 2, false); err != nil {
		t.Fatalf("JobStarted: %v", err)
	}
	if err := New(nil).JobFailed("job", errors.New("x"), time.Second); err != nil {
		t.Fatalf("JobFailed: %v", err)
	}
	if len(*got) != 0 {
		t.Errorf("sent %d messages while disabled", len(*got))
	}
}

func TestJobMessages(t *testing.T) {
	srv, got := newTestServer(t, http.StatusOK)
	n := New(&config.SlackConfig{Enabled: true, WebhookURL: srv.URL, Channel: "#ops"})
	n.now = func() time.Time { return time.Unix(1700000000, 0) }

	if err := n.JobStarted("job-1", "mysql://db/wordpress", 3, true); err != nil {
		t.Fatalf("JobStarted: %v", err)
	}
	err := n.JobCompleted("job-1", Summary{
		StartedAt:   time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		Duration:    95 * time.Second,
		Tables:      3,
		RowsScanned: 1234567,
		RowsChanged: 4321,
		Invocations: 12,
	})
	if err != nil {
		t.Fatalf("JobCompleted: %v", err)
	}
	if err := n.JobFailed("job-1", errors.New(strings.Repeat("x", 600)), time.Minute); err != nil {
		t.Fatalf("JobFailed: %v", err)
	}

	if len(*got) != 3 {
		t.Fatalf("got %d messages, want 3", len(*got))
	}
	started, completed, failed := (*got)[0], (*got)[1], (*got)[2]

	if started.Channel != "#ops" || started.Username != "search-replace" {
		t.Errorf("started message = %+v", started)
	}
	if started.Attachments[0].Title != "Search-Replace Resumed" {
		t.Errorf("title = %q", started.Attachments[0].Title)
	}
	if started.Attachments[0].Timestamp != 1700000000 {
		t.Errorf("ts = %d", started.Attachments[0].Timestamp)
	}

	if !strings.Contains(completed.Text, "Rewrote 4,321 of 1,234,567 rows across 3 tables in 12 invocations") {
		t.Errorf("completed text = %q", completed.Text)
	}
	var duration string
	for _, f := range completed.Attachments[0].Fields {
		if f.Title == "Duration" {
			duration = f.Value
		}
	}
	if duration != "1m 35s" {
		t.Errorf("duration field = %q", duration)
	}

	errField := failed.Attachments[0].Fields[2].Value
	if len(errField) != 503 || !strings.HasSuffix(errField, "...") {
		t.Errorf("error field not truncated: %d bytes", len(errField))
	}
}

func TestSendReportsHTTPStatus(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusForbidden)
	n := New(&config.SlackConfig{Enabled: true, WebhookURL: srv.URL})

	err := n.JobStarted("job", "db", 1, false)
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Errorf("expected status error, got %v", err)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{1400 * time.Millisecond, "1s"},
		{61 * time.Second, "1m 1s"},
		{2*time.Hour + 3*time.Minute + 4*time.Second, "2h 3m 4s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
