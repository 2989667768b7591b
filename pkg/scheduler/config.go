// Package scheduler enqueues pipeline runs on a cron schedule. Only the
// instance holding the Redis leader lease schedules runs.
package scheduler

import (
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
)

// ErrScheduleRequired is returned when scheduling is enabled without a schedule
var ErrScheduleRequired = errors.New("schedule is required when the scheduler is enabled")

// Config defines scheduler configuration
type Config struct {
	Enabled  bool   `yaml:"enabled" default:"true"`
	Schedule string `yaml:"schedule" default:"@daily"`
}

// Validate checks if the scheduler configuration is valid
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Schedule == "" {
		return ErrScheduleRequired
	}

	if _, err := ParseSchedule(c.Schedule); err != nil {
		return err
	}

	return nil
}

// ParseSchedule parses a five field cron expression or a descriptor such as
// "@every 6h" or "@daily"
func ParseSchedule(schedule string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

	sched, err := parser.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}

	return sched, nil
}
