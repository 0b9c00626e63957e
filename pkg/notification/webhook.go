package notification

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"drpactor/internal/model"
	"drpactor/pkg/config"
	"drpactor/pkg/logger"

	"github.com/go-resty/resty/v2"
)

// WebhookNotifier posts failed status lines to a chat webhook (Lark/Feishu card format)
type WebhookNotifier struct {
	webhookURL string
	client     *resty.Client
}

// NewWebhookNotifier creates a notifier. Config takes priority over DRP_WEBHOOK_URL.
func NewWebhookNotifier(cfg config.NotificationConfig) *WebhookNotifier {
	webhookURL := cfg.WebhookURL
	if webhookURL == "" {
		webhookURL = os.Getenv("DRP_WEBHOOK_URL")
	}
	if webhookURL == "" {
		logger.Warn("webhook URL not configured, failure notifications will be disabled")
	}

	return &WebhookNotifier{
		webhookURL: webhookURL,
		client: resty.New().
			SetTimeout(10 * time.Second).
			SetHeader("Content-Type", "application/json"),
	}
}

// Enabled reports whether a webhook is configured
func (n *WebhookNotifier) Enabled() bool {
	return n.webhookURL != ""
}

// NotifyFailure sends one status line
func (n *WebhookNotifier) NotifyFailure(ctx context.Context, line model.StatusLine) error {
	if !n.Enabled() {
		return nil
	}

	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(buildFailureMessage(line)).
		Post(n.webhookURL)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("webhook returned status code: %d", resp.StatusCode())
	}

	logger.InfoCtx(ctx, "failure notification sent for %s visit %d", line.Stage, line.Visit)
	return nil
}

func buildFailureMessage(line model.StatusLine) map[string]interface{} {
	text := fmt.Sprintf("**Stage**: %s\n**Visit**: %d\n**Return code**: %d\n**Elapsed**: %.1fs",
		line.Stage, line.Visit, line.ReturnCode, line.Elapsed)
	if line.Text != "" {
		text += "\n" + line.Text
	}

	return map[string]interface{}{
		"msg_type": "interactive",
		"card": map[string]interface{}{
			"header": map[string]interface{}{
				"template": "red",
				"title": map[string]interface{}{
					"content": fmt.Sprintf("%s failed for visit %d", line.Stage, line.Visit),
					"tag":     "plain_text",
				},
			},
			"elements": []interface{}{
				map[string]interface{}{
					"tag": "div",
					"text": map[string]interface{}{
						"content": text,
						"tag":     "lark_md",
					},
				},
				map[string]interface{}{
					"tag": "hr",
				},
				map[string]interface{}{
					"tag": "note",
					"elements": []interface{}{
						map[string]interface{}{
							"content": line.Keyword(),
							"tag":     "plain_text",
						},
					},
				},
			},
		},
	}
}
