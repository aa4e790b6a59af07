// Package notify pushes freshly created alerts to out-of-band channels:
// a webhook and email. Delivery is one-shot; a failed notification is
// logged and counted, never retried, since the alert itself is already
// durable and visible on the live stream.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"gopkg.in/gomail.v2"

	"crisiswatch/internal/config"
	"crisiswatch/internal/logger"
	"crisiswatch/pkg/metrics"
	"crisiswatch/pkg/models"
)

type Dispatcher struct {
	cfg    config.NotifyConfig
	client *resty.Client
	logger logger.Logger
}

func NewDispatcher(cfg config.NotifyConfig, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:    cfg,
		client: resty.New().SetTimeout(10 * time.Second),
		logger: log,
	}
}

// Dispatch fans one alert out to every configured channel. Channel failures
// are independent; the webhook failing does not stop the email.
func (d *Dispatcher) Dispatch(ctx context.Context, alert models.CrisisAlert) {
	if d.cfg.WebhookURL != "" {
		d.sendWebhook(ctx, alert)
	}
	if d.cfg.Email.SMTPHost != "" && len(d.cfg.Email.To) > 0 {
		d.sendEmail(ctx, alert)
	}
}

func (d *Dispatcher) sendWebhook(ctx context.Context, alert models.CrisisAlert) {
	resp, err := d.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(alert).
		Post(d.cfg.WebhookURL)

	if err != nil {
		metrics.NotificationsTotal.WithLabelValues("webhook", "error").Inc()
		d.logger.ErrorwCtx(ctx, "Webhook notification failed",
			"alert_id", alert.ID,
			"error", err,
		)
		return
	}
	if resp.IsError() {
		metrics.NotificationsTotal.WithLabelValues("webhook", "error").Inc()
		d.logger.ErrorwCtx(ctx, "Webhook notification rejected",
			"alert_id", alert.ID,
			"status", resp.StatusCode(),
		)
		return
	}

	metrics.NotificationsTotal.WithLabelValues("webhook", "ok").Inc()
}

func (d *Dispatcher) sendEmail(ctx context.Context, alert models.CrisisAlert) {
	m := gomail.NewMessage()
	m.SetHeader("From", d.cfg.Email.From)
	m.SetHeader("To", d.cfg.Email.To...)
	m.SetHeader("Subject", fmt.Sprintf("[%s] %s", strings.ToUpper(string(alert.Severity)), alert.Title))
	m.SetBody("text/plain", emailBody(alert))

	dialer := gomail.NewDialer(d.cfg.Email.SMTPHost, d.cfg.Email.SMTPPort,
		d.cfg.Email.Username, d.cfg.Email.Password)

	if err := dialer.DialAndSend(m); err != nil {
		metrics.NotificationsTotal.WithLabelValues("email", "error").Inc()
		d.logger.ErrorwCtx(ctx, "Email notification failed",
			"alert_id", alert.ID,
			"error", err,
		)
		return
	}

	metrics.NotificationsTotal.WithLabelValues("email", "ok").Inc()
}

func emailBody(alert models.CrisisAlert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Alert: %s\n", alert.Title)
	fmt.Fprintf(&b, "Severity: %s\n", alert.Severity)
	fmt.Fprintf(&b, "Type: %s\n", alert.Type)
	fmt.Fprintf(&b, "Created: %s\n\n", alert.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "%s\n", alert.Description)

	if len(alert.AffectedPlatforms) > 0 {
		fmt.Fprintf(&b, "\nPlatforms: %s\n", strings.Join(alert.AffectedPlatforms, ", "))
	}
	if alert.EstimatedReach > 0 {
		fmt.Fprintf(&b, "Estimated reach: %d\n", alert.EstimatedReach)
	}
	return b.String()
}
