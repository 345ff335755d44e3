// Package cron runs the periodic maintenance jobs of rolegate: pruning
// idle session mappings and expiring old conversation turns.
package cron

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
)

// Job is one maintenance task. Name must be unique within a Scheduler.
type Job interface {
	Name() string
	// Schedule is a standard 5-field expression or a descriptor such as
	// "@hourly".
	Schedule() string
	Run(ctx context.Context) error
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule parses expr the way the Scheduler does.
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("cron: invalid schedule %q: %w", expr, err)
	}
	return sched, nil
}
