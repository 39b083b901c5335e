package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"gas/internal/config"
)

const userAgent = "gas/0.1.0"

// Recipient identifies who a notification is addressed to.
type Recipient struct {
	UserID string
	Name   string
	Email  string
}

// ResultReady describes a finished job.
type ResultReady struct {
	JobID         string
	InputFileName string
	Recipient     Recipient
}

// Restored describes a result that came back from cold storage.
type Restored struct {
	JobID     string
	Recipient Recipient
}

// Service defines the notification surface exposed to the pipeline stages.
type Service interface {
	NotifyResultReady(ctx context.Context, event ResultReady) error
	NotifyRestored(ctx context.Context, event Restored) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	nc := cfg.Notifications
	topic := strings.TrimSpace(nc.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(nc.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:  topic,
		client:    &http.Client{Timeout: timeout},
		sender:    nc.Sender,
		subject:   nc.Subject,
		resultURL: nc.ResultURL,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
	email    string
}

type ntfyService struct {
	endpoint  string
	client    *http.Client
	sender    string
	subject   string
	resultURL string
}

func (n *ntfyService) NotifyResultReady(ctx context.Context, event ResultReady) error {
	jobID := strings.TrimSpace(event.JobID)
	var body strings.Builder
	if name := strings.TrimSpace(event.Recipient.Name); name != "" {
		fmt.Fprintf(&body, "Hello %s,\n\n", name)
	}
	fmt.Fprintf(&body, "Your annotation job %s", jobID)
	if file := strings.TrimSpace(event.InputFileName); file != "" {
		fmt.Fprintf(&body, " for %s", file)
	}
	body.WriteString(" is complete.")
	if link := n.link(jobID); link != "" {
		fmt.Fprintf(&body, "\nResults: %s", link)
	}
	data := payload{
		title:    n.title(jobID),
		message:  body.String(),
		tags:     []string{"gas", "annotation", "completed"},
		priority: "high",
		email:    event.Recipient.Email,
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRestored(ctx context.Context, event Restored) error {
	jobID := strings.TrimSpace(event.JobID)
	message := fmt.Sprintf("Results for job %s were restored from the archive.", jobID)
	if link := n.link(jobID); link != "" {
		message = fmt.Sprintf("%s\nResults: %s", message, link)
	}
	data := payload{
		title:   "gas - Results Restored",
		message: message,
		tags:    []string{"gas", "restore", "completed"},
		email:   event.Recipient.Email,
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "gas - Test",
		message:  "Notification system test",
		tags:     []string{"gas", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) title(jobID string) string {
	if strings.Contains(n.subject, "%s") {
		return fmt.Sprintf(n.subject, jobID)
	}
	if n.subject != "" {
		return n.subject
	}
	return "gas - Results Ready"
}

func (n *ntfyService) link(jobID string) string {
	switch {
	case n.resultURL == "":
		return ""
	case strings.Contains(n.resultURL, "%s"):
		return fmt.Sprintf(n.resultURL, jobID)
	default:
		return strings.TrimSuffix(n.resultURL, "/") + "/" + jobID
	}
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}
	if email := strings.TrimSpace(data.email); email != "" {
		req.Header.Set("Email", email)
		if n.sender != "" {
			req.Header.Set("X-Gas-Sender", n.sender)
		}
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyResultReady(context.Context, ResultReady) error { return nil }
func (noopService) NotifyRestored(context.Context, Restored) error       { return nil }
func (noopService) TestNotification(context.Context) error               { return nil }
