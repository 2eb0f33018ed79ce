// Package monitor measures open tasks on their schedule and evaluates them
// when their monitoring window ends.
package monitor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/maintenance-agent/internal/model"
	"github.com/t77yq/maintenance-agent/internal/storage"
)

// DueState is what a task needs on a given day
type DueState string

const (
	NotDue        DueState = "not_due"
	DailyDue      DueState = "daily_due"
	WeeklyDue     DueState = "weekly_due"
	EvaluationDue DueState = "evaluation_due"
)

// TaskLister lists tasks from the store
type TaskLister interface {
	ListTasks(ctx context.Context, filter storage.TaskFilter) ([]model.Task, error)
}

// DueStates returns every state task is in on today. Only active tasks are
// due. Measurements are due up to and including the end date, weekly ones
// on Mondays only. Evaluation is due from the end date on.
func DueStates(task model.Task, today time.Time) []DueState {
	if task.MonitorStatus != model.MonitorStatusActive {
		return []DueState{NotDue}
	}
	day := dateOf(today)
	end := dateOf(task.MonitorEndDate)

	var states []DueState
	if !day.After(end) {
		switch task.MonitorFrequency {
		case model.FrequencyDaily:
			states = append(states, DailyDue)
		case model.FrequencyWeekly:
			if day.Weekday() == time.Monday {
				states = append(states, WeeklyDue)
			}
		}
	}
	if !day.Before(end) {
		states = append(states, EvaluationDue)
	}
	if len(states) == 0 {
		return []DueState{NotDue}
	}
	return states
}

// DueTasks groups active tasks by what they need today
type DueTasks struct {
	Date       time.Time    `json:"date"`
	Daily      []model.Task `json:"daily"`
	Weekly     []model.Task `json:"weekly"`
	Evaluation []model.Task `json:"evaluation"`
}

// Checker finds the tasks due for measurement or evaluation
type Checker struct {
	logger *zap.Logger
	store  TaskLister
}

func NewChecker(logger *zap.Logger, store TaskLister) *Checker {
	return &Checker{
		logger: logger.Named("checker"),
		store:  store,
	}
}

// Check classifies every active task for today.
func (c *Checker) Check(ctx context.Context, today time.Time) (*DueTasks, error) {
	tasks, err := c.store.ListTasks(ctx, storage.TaskFilter{MonitorStatus: model.MonitorStatusActive})
	if err != nil {
		return nil, fmt.Errorf("failed to list active tasks: %w", err)
	}

	due := &DueTasks{Date: dateOf(today)}
	for _, t := range tasks {
		for _, s := range DueStates(t, today) {
			switch s {
			case DailyDue:
				due.Daily = append(due.Daily, t)
			case WeeklyDue:
				due.Weekly = append(due.Weekly, t)
			case EvaluationDue:
				due.Evaluation = append(due.Evaluation, t)
			}
		}
	}

	c.logger.Info("Checked active tasks",
		zap.Time("date", due.Date),
		zap.Int("active", len(tasks)),
		zap.Int("daily", len(due.Daily)),
		zap.Int("weekly", len(due.Weekly)),
		zap.Int("evaluation", len(due.Evaluation)))
	return due, nil
}

// ForFrequency returns the tasks due for measurement at freq.
func (d *DueTasks) ForFrequency(freq model.MonitorFrequency) []model.Task {
	if freq == model.FrequencyDaily {
		return d.Daily
	}
	return d.Weekly
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
