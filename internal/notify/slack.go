package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/johndauphine/db-search-replace/internal/config"
)

const footer = "search-replace"

// Notifier sends notifications to Slack
type Notifier struct {
	config     *config.SlackConfig
	httpClient *http.Client
	now        func() time.Time
}

// SlackMessage represents a Slack webhook message
type SlackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack message attachment
type SlackAttachment struct {
	Color     string       `json:"color,omitempty"`
	Title     string       `json:"title,omitempty"`
	Text      string       `json:"text,omitempty"`
	Fields    []SlackField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

// SlackField represents a field in a Slack attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// New creates a new Slack notifier
func New(cfg *config.SlackConfig) *Notifier {
	if cfg == nil {
		cfg = &config.SlackConfig{Enabled: false}
	}
	return &Notifier{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		now: time.Now,
	}
}

// IsEnabled returns true if notifications are enabled
func (n *Notifier) IsEnabled() bool {
	return n.config != nil && n.config.Enabled && n.config.WebhookURL != ""
}

// JobStarted sends notification when a job starts or resumes
func (n *Notifier) JobStarted(jobID, database string, tableCount int, resumed bool) error {
	if !n.IsEnabled() {
		return nil
	}

	title := "Search-Replace Started"
	if resumed {
		title = "Search-Replace Resumed"
	}

	return n.send(n.message(":rocket:", "", SlackAttachment{
		Color: "#36a64f", // green
		Title: title,
		Fields: []SlackField{
			{Title: "Job ID", Value: jobID, Short: true},
			{Title: "Tables", Value: fmt.Sprintf("%d", tableCount), Short: true},
			{Title: "Database", Value: database, Short: false},
		},
	}))
}

// JobCompleted sends notification when every table has been processed
func (n *Notifier) JobCompleted(jobID string, s Summary) error {
	if !n.IsEnabled() {
		return nil
	}

	verb := "Rewrote"
	if s.DryRun {
		verb = "Dry run found"
	}
	header := fmt.Sprintf("Search-replace completed. %s %s of %s rows across %d tables in %d invocations.",
		verb, humanize.Comma(s.RowsChanged), humanize.Comma(s.RowsScanned), s.Tables, s.Invocations)

	return n.send(n.message(":white_check_mark:", header, SlackAttachment{
		Color: "#36a64f", // green
		Fields: []SlackField{
			{Title: "Job ID", Value: jobID, Short: true},
			{Title: "Started", Value: s.StartedAt.UTC().Format("2006-01-02 15:04:05 UTC"), Short: true},
			{Title: "Duration", Value: formatDuration(s.Duration), Short: true},
			{Title: "Tables", Value: fmt.Sprintf("%d", s.Tables), Short: true},
			{Title: "Rows Scanned", Value: humanize.Comma(s.RowsScanned), Short: true},
			{Title: "Rows Changed", Value: humanize.Comma(s.RowsChanged), Short: true},
		},
	}))
}

// JobFailed sends notification when an invocation fails
func (n *Notifier) JobFailed(jobID string, err error, duration time.Duration) error {
	if !n.IsEnabled() {
		return nil
	}

	errMsg := "Unknown error"
	if err != nil {
		errMsg = err.Error()
		if len(errMsg) > 500 {
			errMsg = errMsg[:500] + "..."
		}
	}

	return n.send(n.message(":x:", "", SlackAttachment{
		Color: "#dc3545", // red
		Title: "Search-Replace Failed",
		Fields: []SlackField{
			{Title: "Job ID", Value: jobID, Short: true},
			{Title: "Duration", Value: formatDuration(duration), Short: true},
			{Title: "Error", Value: errMsg, Short: false},
		},
	}))
}

func (n *Notifier) message(icon, text string, att SlackAttachment) SlackMessage {
	att.Footer = footer
	att.Timestamp = n.now().Unix()
	return SlackMessage{
		Channel:     n.config.Channel,
		Username:    n.getUsername(),
		IconEmoji:   icon,
		Text:        text,
		Attachments: []SlackAttachment{att},
	}
}

func (n *Notifier) send(msg SlackMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	resp, err := n.httpClient.Post(n.config.WebhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("sending to Slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Slack returned status %d", resp.StatusCode)
	}

	return nil
}

func (n *Notifier) getUsername() string {
	if n.config.Username != "" {
		return n.config.Username
	}
	return footer
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
