package api

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/t77yq/maintenance-agent/internal/model"
	"github.com/t77yq/maintenance-agent/internal/storage"
)

const chatListLimit = 10

// ChatStore is what the chat answers are built from
type ChatStore interface {
	ListTasks(ctx context.Context, filter storage.TaskFilter) ([]model.Task, error)
	ListFindings(ctx context.Context, filter storage.FindingFilter) ([]model.Finding, error)
	ListScheduledMaintenance(ctx context.Context, status model.MaintenanceStatus) ([]model.ScheduledMaintenance, error)
	CountTasksByStatus(ctx context.Context) (map[model.TaskStatus]int, error)
}

// Chat answers plain-language questions from the store
type Chat struct {
	store ChatStore
}

func NewChat(store ChatStore) *Chat {
	return &Chat{store: store}
}

type topic struct {
	keywords []string
	answer   func(c *Chat, ctx context.Context) (string, error)
}

var topics = []topic{
	{keywords: []string{"maintenance", "schedule", "preventive"}, answer: (*Chat).scheduledMaintenance},
	{keywords: []string{"finding", "issue", "alert"}, answer: (*Chat).recentFindings},
	{keywords: []string{"status", "summary", "overview"}, answer: (*Chat).taskOverview},
	{keywords: []string{"task", "watch", "monitor"}, answer: (*Chat).openTasks},
}

const helpText = `I can answer questions about:
- open monitoring tasks ("which tasks are open?")
- recent findings ("show recent findings")
- scheduled maintenance ("what maintenance is scheduled?")
- a task status overview ("give me a status summary")
Workflows are started with POST /maintenance/workflow.`

// Answer returns the answer to query.
func (c *Chat) Answer(ctx context.Context, query string) (string, error) {
	q := strings.ToLower(query)
	for _, t := range topics {
		for _, k := range t.keywords {
			if strings.Contains(q, k) {
				return t.answer(c, ctx)
			}
		}
	}
	return helpText, nil
}

func (c *Chat) openTasks(ctx context.Context) (string, error) {
	tasks, err := c.store.ListTasks(ctx, storage.TaskFilter{MonitorStatus: model.MonitorStatusActive})
	if err != nil {
		return "", fmt.Errorf("failed to list tasks: %w", err)
	}
	if len(tasks) == 0 {
		return "There are no tasks being monitored.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d tasks are being monitored:", len(tasks))
	for i, t := range tasks {
		if i == chatListLimit {
			fmt.Fprintf(&b, "\n... and %d more", len(tasks)-chatListLimit)
			break
		}
		fmt.Fprintf(&b, "\n- %s (%s, %s checks until %s)",
			t.Title, t.Status, t.MonitorFrequency, t.MonitorEndDate.Format("2006-01-02"))
	}
	return b.String(), nil
}

func (c *Chat) recentFindings(ctx context.Context) (string, error) {
	findings, err := c.store.ListFindings(ctx, storage.FindingFilter{Limit: chatListLimit})
	if err != nil {
		return "", fmt.Errorf("failed to list findings: %w", err)
	}
	if len(findings) == 0 {
		return "No findings have been recorded yet.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "The %d most recent findings:", len(findings))
	for _, f := range findings {
		fmt.Fprintf(&b, "\n- [%s] %s", f.Status, f.Summary)
	}
	return b.String(), nil
}

func (c *Chat) scheduledMaintenance(ctx context.Context) (string, error) {
	jobs, err := c.store.ListScheduledMaintenance(ctx, model.MaintenanceOpen)
	if err != nil {
		return "", fmt.Errorf("failed to list scheduled maintenance: %w", err)
	}
	if len(jobs) == 0 {
		return "No preventive maintenance is scheduled.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d preventive maintenance jobs are open:", len(jobs))
	for i, j := range jobs {
		if i == chatListLimit {
			fmt.Fprintf(&b, "\n... and %d more", len(jobs)-chatListLimit)
			break
		}
		fmt.Fprintf(&b, "\n- Machine %s (%s priority) due %s, assigned to %s",
			j.MachineNumber, j.Priority, j.DueDate.Format("2006-01-02"), j.AssignedMechanic)
	}
	return b.String(), nil
}

func (c *Chat) taskOverview(ctx context.Context) (string, error) {
	counts, err := c.store.CountTasksByStatus(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to count tasks: %w", err)
	}
	if len(counts) == 0 {
		return "No tasks have been created yet.", nil
	}

	statuses := make([]string, 0, len(counts))
	total := 0
	for status, n := range counts {
		statuses = append(statuses, string(status))
		total += n
	}
	sort.Strings(statuses)

	parts := make([]string, 0, len(statuses))
	for _, s := range statuses {
		parts = append(parts, fmt.Sprintf("%s: %d", s, counts[model.TaskStatus(s)]))
	}
	return fmt.Sprintf("%d tasks in total (%s).", total, strings.Join(parts, ", ")), nil
}
