package jobs

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"rental-billing-engine/internal/config"
	"rental-billing-engine/internal/logger"
	"rental-billing-engine/internal/service"
)

// Options tune a run-once invocation. The zero value is what cron uses.
type Options struct {
	RentalID int32 // bill only this rental
	Force    bool  // ignore next_billing_date for RentalID
	DryRun   bool  // report overdue invoices without marking them
	Start    time.Time
	End      time.Time
	Format   string // report format: table, json or csv
}

// JobRunner coordinates all scheduled jobs
type JobRunner struct {
	services *service.Services
	config   *config.Config
	opts     Options
	out      io.Writer
	now      func() time.Time
}

// NewJobRunner creates a new job runner with all dependencies
func NewJobRunner(services *service.Services, cfg *config.Config) *JobRunner {
	return &JobRunner{
		services: services,
		config:   cfg,
		out:      os.Stdout,
		now:      time.Now,
	}
}

// Config returns the configuration the runner was built with
func (jr *JobRunner) Config() *config.Config {
	return jr.config
}

// WithOptions returns a copy of the runner using opts
func (jr *JobRunner) WithOptions(opts Options) *JobRunner {
	cp := *jr
	cp.opts = opts
	return &cp
}

// SetOutput redirects report output
func (jr *JobRunner) SetOutput(w io.Writer) {
	jr.out = w
}

// runWithRecovery wraps job execution with panic recovery
func (jr *JobRunner) runWithRecovery(jobName string, jobFunc func(ctx context.Context) error) (err error) {
	log := logger.WithJob(jobName)
	defer func() {
		if r := recover(); r != nil {
			log.Error("Job panicked", "panic", r)
			err = fmt.Errorf("job %s panicked: %v", jobName, r)
		}
	}()

	log.Info("Starting job")
	start := time.Now()
	if err := jobFunc(context.Background()); err != nil {
		log.Error("Job failed", "error", err, "duration", time.Since(start))
		return err
	}
	log.Info("Job completed", "duration", time.Since(start))
	return nil
}

// RunAllNightlyJobs runs the nightly jobs in order. A failing job does not
// stop the ones after it; the first error is returned.
func (jr *JobRunner) RunAllNightlyJobs() error {
	var first error
	for _, job := range []func() error{jr.ProcessWeeklyBilling, jr.MarkOverdueInvoices, jr.ProcessPayouts} {
		if err := job(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
