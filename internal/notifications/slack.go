// Package notifications sends run lifecycle reports to a Slack incoming
// webhook. Notification failures are logged, never propagated; a broken
// webhook must not fail a refresh run.
package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"
)

const reportChannel = "#bot-metricas"

// Notifier posts run reports to Slack. A Notifier with an empty webhook URL
// silently drops every message, so callers never need to nil-check.
type Notifier struct {
	webhookURL string
}

// NewNotifier creates a notifier for the given webhook URL. An empty URL
// disables notifications.
func NewNotifier(webhookURL string) *Notifier {
	return &Notifier{webhookURL: webhookURL}
}

// Enabled reports whether a webhook URL is configured.
func (n *Notifier) Enabled() bool {
	return n.webhookURL != ""
}

// SendRunStarted announces a refresh run and its workload split.
func (n *Notifier) SendRunStarted(ctx context.Context, totalPosts, stalePosts, unmeasuredPosts int) {
	message := fmt.Sprintf("🤖 *Bot de Métricas ITracker - Iniciado*\n"+
		"📊 Total de posts a procesar: %d\n"+
		"🔄 Posts con métricas antiguas: %d\n"+
		"❌ Posts sin métricas: %d\n"+
		"⏰ Hora: %s",
		totalPosts, stalePosts, unmeasuredPosts, timestamp())

	n.post(ctx, message)
}

// SendRunCompleted reports the outcome of a finished run.
func (n *Notifier) SendRunCompleted(ctx context.Context, total, succeeded, failed int, elapsed time.Duration) {
	successRate := 0.0
	if total > 0 {
		successRate = float64(succeeded) / float64(total) * 100
	}

	message := fmt.Sprintf("✅ *Bot de Métricas ITracker - Completado*\n"+
		"📊 Total procesados: %d\n"+
		"✅ Exitosos: %d\n"+
		"❌ Errores: %d\n"+
		"📈 Tasa de éxito: %.1f%%\n"+
		"⏱️ Tiempo: %.2f minutos\n"+
		"🕐 Hora: %s",
		total, succeeded, failed, successRate, elapsed.Minutes(), timestamp())

	n.post(ctx, message)
}

// SendErrorAlert reports a run-level failure with its context.
func (n *Notifier) SendErrorAlert(ctx context.Context, errorMessage, errContext string) {
	message := fmt.Sprintf("🚨 *Error en Bot de Métricas ITracker*\n"+
		"📋 Contexto: %s\n"+
		"❌ Error: %s\n"+
		"⏰ Hora: %s",
		errContext, errorMessage, timestamp())

	n.post(ctx, message)
}

func (n *Notifier) post(ctx context.Context, message string) {
	if n.webhookURL == "" {
		log.Debug().Msg("Slack webhook not configured, skipping notification")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := slack.PostWebhookContext(ctx, n.webhookURL, &slack.WebhookMessage{
		Channel: reportChannel,
		Text:    message,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to send Slack notification")
		return
	}

	log.Info().Msg("Slack notification sent")
}

func timestamp() string {
	return time.Now().Format("02/01/2006 15:04:05")
}
