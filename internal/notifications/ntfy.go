package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func newNtfyService(endpoint string, timeout time.Duration) *ntfyService {
	return &ntfyService{endpoint: endpoint, client: &http.Client{Timeout: timeout}}
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

// format renders an event for humans. Unknown events are dropped.
func format(event Event, payload Payload) (message, bool) {
	file := payload.str("file")
	watcher := payload.str("watcher")
	switch event {
	case EventFileFailed:
		body := fmt.Sprintf("❌ Failed: %s", file)
		if watcher != "" {
			body += fmt.Sprintf(" (%s)", watcher)
		}
		if attempts := payload.str("attempts"); attempts != "" {
			body += fmt.Sprintf(" after %s attempt(s)", attempts)
		}
		if errText := payload.str("error"); errText != "" {
			body += "\n" + errText
		}
		return message{
			title:    "Intake - Failed",
			body:     body,
			tags:     []string{"intake", "error", "alert"},
			priority: "high",
		}, true
	case EventFileImported:
		outcome := payload.str("outcome")
		if outcome == "" {
			outcome = "success"
		}
		verb := "📥 Imported"
		if outcome == "replicated" {
			verb = "🔁 Replicated"
		}
		body := fmt.Sprintf("%s: %s", verb, file)
		if coll := payload.str("collection"); coll != "" {
			dest := coll
			if loc := payload.str("location"); loc != "" {
				dest += "/" + loc
			}
			body += " → " + dest
		}
		return message{
			title: "Intake - Imported",
			body:  body,
			tags:  []string{"intake", "import", outcome},
		}, true
	case EventConfigurationError:
		body := "⚠️ Configuration error"
		if watcher != "" {
			body += " in watcher " + watcher
		}
		if errText := payload.str("error"); errText != "" {
			body += ": " + errText
		}
		return message{
			title:    "Intake - Configuration Error",
			body:     body,
			tags:     []string{"intake", "config", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "Intake - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"intake", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (n *ntfyService) send(ctx context.Context, data message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.body))
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
