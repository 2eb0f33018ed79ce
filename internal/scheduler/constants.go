package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
)

const (
	DefaultDailyMeasureExpression  = "0 0 6 * * *"
	DefaultWeeklyMeasureExpression = "0 0 6 * * MON"
	DefaultEvaluationExpression    = "0 30 6 * * *"

	defaultRunTimeout = 30 * time.Minute
)

var specParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
