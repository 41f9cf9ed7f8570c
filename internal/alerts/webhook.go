package alerts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	json "github.com/goccy/go-json"

	"github.com/obsidianstack/hydrowatch/internal/config"
)

const deliveryTimeout = 10 * time.Second

// notifier posts alerts to one webhook target in that target's format.
type notifier struct {
	kind   string
	url    string
	encode func(a *Alert) any
	client *http.Client
}

func newNotifier(wh config.WebhookConfig) (notifier, error) {
	n := notifier{kind: wh.Type, url: wh.URL(), client: &http.Client{Timeout: deliveryTimeout}}
	if n.url == "" {
		return notifier{}, errors.Newf("environment variable %s is empty", wh.URLEnv)
	}
	switch wh.Type {
	case "slack":
		n.encode = slackPayload
	case "teams":
		n.encode = teamsPayload
	case "http":
		n.encode = func(a *Alert) any { return map[string]any{"alert": a} }
	default:
		return notifier{}, errors.Newf("unknown webhook type %q", wh.Type)
	}
	return n, nil
}

// notify delivers a to every notifier in the background. Failures are
// logged; an alert is never retried.
func (e *Engine) notify(a *Alert) {
	for _, n := range e.notifiers {
		e.inflight.Add(1)
		go func(n notifier) {
			defer e.inflight.Done()
			ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
			defer cancel()

			if err := n.send(ctx, a); err != nil {
				e.logger.Error("alerts: webhook delivery failed", "type", n.kind, "rule", a.RuleName, "adapter", a.AdapterID, "err", err)
				return
			}
			e.logger.Debug("alerts: webhook delivered", "type", n.kind, "rule", a.RuleName, "state", a.State)
		}(n)
	}
}

func (n notifier) send(ctx context.Context, a *Alert) error {
	body, err := json.Marshal(n.encode(a))
	if err != nil {
		return errors.Wrap(err, "encode payload")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "post")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return errors.Newf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func slackPayload(a *Alert) any {
	return map[string]any{
		"text": fmt.Sprintf("*%s* %s", label(a), a.Message),
		"attachments": []map[string]any{{
			"color": "#" + color(a),
			"fields": []map[string]any{
				{"title": "Adapter", "value": a.AdapterID, "short": true},
				{"title": "Rule", "value": a.RuleName, "short": true},
			},
			"ts": a.FiredAt.Unix(),
		}},
	}
}

func teamsPayload(a *Alert) any {
	facts := []map[string]string{
		{"name": "Adapter", "value": a.AdapterID},
		{"name": "Condition", "value": a.Condition},
		{"name": "Value", "value": fmt.Sprintf("%.2f", a.Value)},
		{"name": "Fired", "value": a.FiredAt.UTC().Format(time.RFC3339)},
	}
	if a.ResolvedAt != nil {
		facts = append(facts, map[string]string{"name": "Resolved", "value": a.ResolvedAt.UTC().Format(time.RFC3339)})
	}
	return map[string]any{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": color(a),
		"summary":    a.RuleName,
		"title":      fmt.Sprintf("%s hydrowatch: %s", label(a), a.RuleName),
		"sections":   []map[string]any{{"activityTitle": a.Message, "facts": facts}},
	}
}

func label(a *Alert) string {
	if a.State == StateResolved {
		return "[RESOLVED]"
	}
	switch a.Severity {
	case "critical":
		return "[CRITICAL]"
	case "warning":
		return "[WARNING]"
	}
	return "[INFO]"
}

// color is a hex RGB without the leading #.
func color(a *Alert) string {
	if a.State == StateResolved {
		return "2EB67D"
	}
	switch a.Severity {
	case "critical":
		return "E01E5A"
	case "warning":
		return "ECB22E"
	}
	return "36C5F0"
}
