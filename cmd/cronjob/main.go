package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"rental-billing-engine/internal/config"
	"rental-billing-engine/internal/events"
	"rental-billing-engine/internal/jobs"
	"rental-billing-engine/internal/lock"
	"rental-billing-engine/internal/logger"
	"rental-billing-engine/internal/payments"
	"rental-billing-engine/internal/repository/postgres"
	"rental-billing-engine/internal/scheduler"
	"rental-billing-engine/internal/service"
	"rental-billing-engine/internal/utils"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "config/config.example.yaml", "Path to configuration file")
	runOnce := flag.String("run-once", "", "Run a specific job once and exit (e.g., 'process-weekly-billing', 'all-nightly')")
	migrate := flag.Bool("migrate", false, "Apply database migrations before starting")
	rentalID := flag.Int("rental-id", 0, "Bill only this rental (process-weekly-billing)")
	force := flag.Bool("force", false, "Bill the rental even if it is not due (with -rental-id)")
	dryRun := flag.Bool("dry-run", false, "List overdue invoices without marking them (mark-overdue-invoices)")
	start := flag.String("start", "", "Report start date YYYY-MM-DD (billing-report)")
	end := flag.String("end", "", "Report end date YYYY-MM-DD (billing-report)")
	format := flag.String("format", jobs.FormatTable, "Report format: table, json or csv (billing-report)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger.Initialize(cfg.Log.Level, cfg.Log.Format)
	logger.Info("Starting rental billing cronjob runner...", "log_level", cfg.Log.Level)

	opts, err := parseOptions(*rentalID, *force, *dryRun, *start, *end, *format)
	if err != nil {
		log.Fatalf("Invalid flags: %v", err)
	}

	// Initialize Database
	logger.Info("Connecting to database...", "host", cfg.Database.Host, "port", cfg.Database.Port)
	db, err := sql.Open("postgres", cfg.GetDatabaseConnectionString())
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Test database connection
	if err := db.Ping(); err != nil {
		logger.Error("Failed to ping database", "error", err)
		log.Fatalf("Failed to ping database: %v", err)
	}
	logger.Info("Database connection established")

	if *migrate {
		if err := postgres.Migrate(db); err != nil {
			logger.Error("Failed to migrate database", "error", err)
			log.Fatalf("Failed to migrate database: %v", err)
		}
	}

	// Initialize Repositories
	store := postgres.NewStore(db)

	// Collaborators
	locker, closeLocker := newLocker(cfg.Redis)
	defer closeLocker()

	publisher := newPublisher(cfg.Kafka)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("Failed to close event publisher", "error", err)
		}
	}()

	var emailService service.EmailService = service.NoopEmailService{}
	if cfg.SendGrid.APIKey != "" {
		emailService = service.NewSendGridEmailService(cfg.SendGrid.APIKey, cfg.SendGrid.FromEmail, cfg.SendGrid.FromName)
		logger.Info("Email notifications enabled", "from", cfg.SendGrid.FromEmail)
	} else {
		logger.Info("SendGrid API key not set, email notifications disabled")
	}

	// Initialize Services
	// TODO: replace the sandbox collaborators with the card processor and payout rail clients once their credentials are provisioned
	services := service.New(service.Dependencies{
		Repos:   store.Repositories(),
		Gateway: payments.NewSandboxGateway(),
		Rail:    payments.NewSandboxRail(),
		Events:  publisher,
		Locker:  locker,
		Email:   emailService,
		Policy:  cfg.BillingPolicy(),
		Payout:  cfg.Payout,
		Rates:   cfg.RateTable(),
	})

	// Initialize Job Runner
	jobRunner := jobs.NewJobRunner(services, cfg)

	// Check if running a single job
	if *runOnce != "" {
		logger.Info("Running job once", "job", *runOnce)
		if err := runJobOnce(jobRunner.WithOptions(opts), *runOnce); err != nil {
			logger.Error("Job execution failed", "job", *runOnce, "error", err)
			os.Exit(1)
		}
		logger.Info("Job execution completed", "job", *runOnce)
		return
	}

	// Initialize Scheduler
	cronScheduler, err := scheduler.NewScheduler(jobRunner)
	if err != nil {
		log.Fatalf("Failed to register cron jobs: %v", err)
	}

	// Start scheduler
	cronScheduler.Start()
	logger.Info("Cronjob scheduler is running. Press Ctrl+C to stop.")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	// Graceful shutdown
	logger.Info("Shutting down cronjob scheduler...")
	cronScheduler.Stop()
	logger.Info("Cronjob scheduler stopped. Goodbye!")
}

func parseOptions(rentalID int, force, dryRun bool, start, end, format string) (jobs.Options, error) {
	opts := jobs.Options{RentalID: int32(rentalID), Force: force, DryRun: dryRun, Format: format}
	if force && rentalID == 0 {
		return opts, fmt.Errorf("-force requires -rental-id")
	}
	var err error
	if start != "" {
		if opts.Start, err = utils.ParseDate(start); err != nil {
			return opts, fmt.Errorf("-start: %w", err)
		}
	}
	if end != "" {
		if opts.End, err = utils.ParseDate(end); err != nil {
			return opts, fmt.Errorf("-end: %w", err)
		}
	}
	return opts, nil
}

func newLocker(cfg config.RedisConfig) (lock.Locker, func()) {
	if cfg.URL == "" {
		logger.Info("Redis URL not set, using in-process rental locks")
		return lock.NewLocalLocker(), func() {}
	}
	redisOpts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		log.Fatalf("Invalid redis url: %v", err)
	}
	redisOpts.DialTimeout = 5 * time.Second
	client := redis.NewClient(redisOpts)
	logger.Info("Using redis rental locks", "addr", redisOpts.Addr)
	return lock.NewRedisLocker(client), func() {
		if err := client.Close(); err != nil {
			logger.Warn("Failed to close redis client", "error", err)
		}
	}
}

func newPublisher(cfg config.KafkaConfig) events.Publisher {
	if cfg.Broker == "" {
		logger.Info("Kafka broker not set, events are logged only")
		return events.LogPublisher{}
	}
	logger.Info("Publishing events to kafka", "broker", cfg.Broker, "topic", cfg.Topic)
	return events.NewKafkaPublisher(cfg.Broker, cfg.Topic)
}

// runJobOnce runs a specific job once
func runJobOnce(jobRunner *jobs.JobRunner, jobName string) error {
	switch jobName {
	case "process-weekly-billing":
		return jobRunner.ProcessWeeklyBilling()
	case "mark-overdue-invoices":
		return jobRunner.MarkOverdueInvoices()
	case "process-payouts":
		return jobRunner.ProcessPayouts()
	case "billing-report":
		return jobRunner.BillingReport()
	case "all-nightly":
		return jobRunner.RunAllNightlyJobs()
	default:
		logger.Error("Unknown job name", "job", jobName)
		fmt.Printf("Available jobs:\n")
		fmt.Printf("  - process-weekly-billing\n")
		fmt.Printf("  - mark-overdue-invoices\n")
		fmt.Printf("  - process-payouts\n")
		fmt.Printf("  - billing-report\n")
		fmt.Printf("  - all-nightly\n")
		os.Exit(1)
	}
	return nil
}
