package notify

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/maintenance-agent/internal/metrics"
	"github.com/t77yq/maintenance-agent/internal/model"
)

// DefaultRecipient receives every notification when none are configured.
const DefaultRecipient = "maintenance.manager@company.com"

// LogStore records delivery attempts
type LogStore interface {
	LogNotification(ctx context.Context, n *model.Notification) error
}

// Notifier turns evaluation outcomes into messages
type Notifier struct {
	logger     *zap.Logger
	channel    Channel
	store      LogStore
	recipients []string
	metrics    *metrics.Metrics
}

func NewNotifier(logger *zap.Logger, channel Channel, store LogStore, recipients []string, m *metrics.Metrics) *Notifier {
	if len(recipients) == 0 {
		recipients = []string{DefaultRecipient}
	}
	return &Notifier{
		logger:     logger.Named("notifier"),
		channel:    channel,
		store:      store,
		recipients: dedupe(recipients),
		metrics:    m,
	}
}

// NotifyDecision sends the message for an evaluation and logs the attempt.
func (n *Notifier) NotifyDecision(ctx context.Context, task *model.Task, e *model.Evaluation) error {
	msg := DecisionMessage(task, e.Decision)
	msg.Recipients = n.recipients
	return n.deliver(ctx, task.ID, msg, severityOf(e.Decision.Action))
}

func (n *Notifier) deliver(ctx context.Context, taskID string, msg Message, severity model.Severity) error {
	record := &model.Notification{
		ID:         uuid.New().String(),
		TaskID:     taskID,
		Channel:    n.channel.Name(),
		Recipients: msg.Recipients,
		Subject:    msg.Subject,
		Body:       msg.Body,
		Severity:   severity,
		Status:     model.NotificationSent,
		CreatedAt:  time.Now(),
	}

	sendErr := n.channel.Send(ctx, msg)
	if sendErr != nil {
		record.Status = model.NotificationFailed
		record.Error = sendErr.Error()
	}
	n.metrics.NotificationSent(record.Channel, string(record.Status))

	if err := n.store.LogNotification(ctx, record); err != nil {
		n.logger.Error("Failed to log notification", zap.String("task_id", taskID), zap.Error(err))
	}
	if sendErr != nil {
		return fmt.Errorf("failed to notify for task %s: %w", taskID, sendErr)
	}

	n.logger.Info("Notification sent",
		zap.String("task_id", taskID),
		zap.String("channel", record.Channel),
		zap.String("subject", msg.Subject))
	return nil
}

// DecisionMessage builds the subject and body for a decision on task.
func DecisionMessage(task *model.Task, d model.Decision) Message {
	title := task.Title
	if title == "" {
		title = "Untitled Task"
	}
	who := task.MechanicName
	if who == "" {
		who = task.EntityID
	}

	var subject, opening, closing string
	switch d.Action {
	case model.ActionClose:
		subject = "Performance Task Completed: " + title
		opening = fmt.Sprintf("The performance monitoring task %q for %s has been completed successfully.", title, who)
		closing = "No further action is required for this task."
	case model.ActionExtend:
		subject = "Performance Task Extended: " + title
		opening = fmt.Sprintf("The performance monitoring task %q for %s has been extended for further monitoring.", title, who)
		closing = "The task will continue to be monitored for additional improvement."
	case model.ActionReview:
		subject = "Performance Task Needs Review: " + title
		opening = fmt.Sprintf("The performance monitoring task %q for %s requires review.", title, who)
		closing = "Please review the task and determine the appropriate next steps."
	case model.ActionIntervene:
		subject = "URGENT: Intervention Needed for " + title
		opening = fmt.Sprintf("URGENT: The performance monitoring task %q for %s requires immediate intervention.", title, who)
		closing = "Please take action as soon as possible to address this performance issue."
	default:
		subject = "Performance Task Update: " + title
		opening = fmt.Sprintf("This is an update regarding the performance monitoring task %q for %s.", title, who)
	}

	body := "Hello,\n\n" + opening + "\n\n" + d.Explanation + "\n\n" + d.Recommendation + "\n\n"
	if closing != "" {
		body += closing + "\n\n"
	}
	body += "Thank you,\nPerformance Monitoring System\n"
	return Message{Subject: subject, Body: body}
}

func severityOf(action model.DecisionAction) model.Severity {
	switch action {
	case model.ActionIntervene:
		return model.SeverityHigh
	case model.ActionReview, model.ActionExtend:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, s := range in {
		if _, ok := seen[s]; ok || s == "" {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
