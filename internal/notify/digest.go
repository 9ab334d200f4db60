package notify

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/zulandar/trellis/internal/models"
	"gorm.io/gorm"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// nextCronDuration parses a 5-field cron expression and returns the duration
// until the next fire time. Returns 0 on parse error.
func nextCronDuration(expr string) time.Duration {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return 0
	}
	next := sched.Next(time.Now())
	d := time.Until(next)
	if d < 0 {
		return 0
	}
	return d
}

// DueReport summarizes the open items that are overdue or due today for
// one organization.
type DueReport struct {
	Organization string
	Overdue      []models.WorkItem
	DueToday     []models.WorkItem
}

// BuildDueReport queries open items with due dates at or before the end
// of now's day. Returns nil when there is nothing to report.
func BuildDueReport(db *gorm.DB, org string, now time.Time) (*DueReport, error) {
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	dayEnd := dayStart.Add(24 * time.Hour)

	var items []models.WorkItem
	if err := db.Where("organization_id = ? AND completed_at IS NULL AND due_date IS NOT NULL AND due_date < ?", org, dayEnd).
		Order("due_date ASC").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("notify: due report for %s: %w", org, err)
	}
	if len(items) == 0 {
		return nil, nil
	}

	report := &DueReport{Organization: org}
	for _, item := range items {
		if item.DueDate.Before(dayStart) {
			report.Overdue = append(report.Overdue, item)
		} else {
			report.DueToday = append(report.DueToday, item)
		}
	}
	return report, nil
}

// Notification renders the report for delivery. Recipients are the
// distinct assignees of the reported items.
func (r *DueReport) Notification() Notification {
	seen := make(map[string]bool)
	var recipients []string
	for _, item := range append(append([]models.WorkItem{}, r.Overdue...), r.DueToday...) {
		if item.Assignee != "" && !seen[item.Assignee] {
			seen[item.Assignee] = true
			recipients = append(recipients, item.Assignee)
		}
	}
	sort.Strings(recipients)
	return Notification{
		Recipients: recipients,
		Template:   "due_digest",
		Context: map[string]string{
			"organization": r.Organization,
			"overdue":      fmt.Sprintf("%d", len(r.Overdue)),
			"due_today":    fmt.Sprintf("%d", len(r.DueToday)),
		},
	}
}

// Digest periodically pushes the due-date report through a sink on a
// cron schedule.
type Digest struct {
	DB           *gorm.DB
	Sink         Sink
	Organization string
	Schedule     string // 5-field cron expression
}

// Run blocks until ctx is cancelled, firing the digest on schedule.
// Build and delivery failures are logged, never fatal.
func (d *Digest) Run(ctx context.Context) error {
	if d.Sink == nil {
		return fmt.Errorf("notify: digest sink is required")
	}
	for {
		wait := nextCronDuration(d.Schedule)
		if wait == 0 {
			return fmt.Errorf("notify: invalid digest schedule %q", d.Schedule)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		d.fire(ctx)
	}
}

func (d *Digest) fire(ctx context.Context) {
	report, err := BuildDueReport(d.DB, d.Organization, time.Now())
	if err != nil {
		logrus.WithError(err).Warn("due digest build failed")
		return
	}
	if report == nil {
		return
	}
	if err := d.Sink.Send(ctx, report.Notification()); err != nil {
		logrus.WithError(err).Warn("due digest delivery failed")
	}
}
