package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/seaward/benguela/internal/workflow"
)

// SlackNotifier posts a summary to a Slack channel whenever a workflow
// reaches a terminal state. Report delivery is fire-and-forget: a failed
// post is logged, never retried.
type SlackNotifier struct {
	client  *slack.Client
	channel string
	logger  *zap.Logger
}

// NewSlackNotifier creates a notifier for the given channel.
// botToken is the Bot User OAuth Token (xoxb-...).
func NewSlackNotifier(botToken, channel string, logger *zap.Logger) *SlackNotifier {
	return &SlackNotifier{
		client:  slack.New(botToken),
		channel: channel,
		logger:  logger,
	}
}

// NotifyTerminal implements workflow.Notifier.
func (n *SlackNotifier) NotifyTerminal(ctx context.Context, s workflow.Summary) error {
	_, _, err := n.client.PostMessageContext(ctx, n.channel,
		slack.MsgOptionText(formatSummary(s), false),
	)
	if err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	n.logger.Debug("terminal notification sent",
		zap.String("workflow", s.ID),
		zap.String("status", string(s.Status)))
	return nil
}

// formatSummary renders a terminal-state summary as Slack markup.
func formatSummary(s workflow.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*[%s] %s*\n", strings.ToUpper(string(s.Status)), s.Name)
	fmt.Fprintf(&b, "Type: %s | Progress: %.1f%%", s.Type, s.Progress)
	if s.StartedAt != nil && s.CompletedAt != nil {
		fmt.Fprintf(&b, " | Took: %s", s.CompletedAt.Sub(*s.StartedAt).Round(time.Second))
	}
	if s.ErrorCount > 0 && len(s.ErrorLog) > 0 {
		fmt.Fprintf(&b, "\nLast error: %s", s.ErrorLog[len(s.ErrorLog)-1])
	}
	return b.String()
}
