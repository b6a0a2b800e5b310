package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/workstream-io/workstream/internal/application/dispatcher"
	"github.com/workstream-io/workstream/internal/application/engine"
	"github.com/workstream-io/workstream/internal/application/eventlog"
	"github.com/workstream-io/workstream/internal/application/outbox"
	"github.com/workstream-io/workstream/internal/application/port"
	"github.com/workstream-io/workstream/internal/application/service"
	"github.com/workstream-io/workstream/internal/config"
	"github.com/workstream-io/workstream/internal/email"
	"github.com/workstream-io/workstream/internal/infrastructure/persistence/repository"
	"github.com/workstream-io/workstream/internal/infrastructure/persistence/sqlite"
	httpserver "github.com/workstream-io/workstream/internal/interfaces/http"
	"github.com/workstream-io/workstream/internal/scheduler"
	"github.com/workstream-io/workstream/pkg/database"
	"github.com/workstream-io/workstream/pkg/utils"
)

func main() {
	// .env is optional; environment wins over file values
	_ = gotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting workstream server", zap.Int("port", cfg.Server.Port))

	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	migrator := database.NewMigrator(db, cfg.Database.MigrationsDir, logger)
	if err := migrator.Up(); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	// Repositories and transaction manager
	txManager := sqlite.NewDB(db.DB, logger)
	templateRepo := repository.NewTemplateRepository(db.DB, logger)
	instanceRepo := repository.NewInstanceRepository(db.DB, logger)
	stepRepo := repository.NewStepRepository(db.DB, logger)
	historyRepo := repository.NewHistoryRepository(db.DB, logger)
	notificationRepo := repository.NewNotificationRepository(db.DB, logger)
	userRepo := repository.NewUserRepository(db.DB, logger)

	// Event dispatcher with the audit-trail subscriber
	disp := dispatcher.New(dispatcher.WithLogger(logger))
	defer disp.Close()
	eventlog.Register(disp, logger)

	// Workflow engine
	eng := engine.New(
		templateRepo,
		instanceRepo,
		stepRepo,
		historyRepo,
		notificationRepo,
		userRepo,
		txManager,
		logger,
		engine.WithDispatcher(disp),
	)

	templateService := service.NewTemplateService(templateRepo, logger)
	processService := service.NewProcessService(templateRepo, instanceRepo, stepRepo, historyRepo, logger)

	// Mail transport
	var mail port.MailSender
	if cfg.Email.Enabled {
		mail = email.NewSMTPSender(email.Config{
			Host:     cfg.Email.Host,
			Port:     cfg.Email.Port,
			From:     cfg.Email.From,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
		}, logger)
	} else {
		mail = email.NewLogSender(logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Notification outbox drainer
	drainer := outbox.NewDrainer(notificationRepo, userRepo, mail, logger,
		outbox.WithInterval(cfg.Outbox.Interval),
		outbox.WithBatchSize(cfg.Outbox.BatchSize),
	)
	if err := drainer.Start(ctx); err != nil {
		logger.Fatal("Failed to start outbox drainer", zap.Error(err))
	}

	// Background jobs
	sched := scheduler.NewManager(logger)
	jobs := []struct {
		job  scheduler.Job
		spec string
	}{
		{scheduler.OverdueCheckJob{Engine: eng}, cfg.Scheduler.OverdueCheck},
		{scheduler.EscalationCascadeJob{Engine: eng}, cfg.Scheduler.EscalationCascade},
		{scheduler.CleanupJob{Instances: instanceRepo, Notifications: notificationRepo, Logger: logger}, cfg.Scheduler.DailyCleanup},
		{scheduler.DigestJob{Enabled: cfg.Scheduler.DigestEnabled, Users: userRepo, Steps: stepRepo, Mail: mail, Logger: logger}, cfg.Scheduler.NotificationDigest},
		{scheduler.HealthCheckJob{Instances: instanceRepo, Notifications: notificationRepo, Users: userRepo, Logger: logger}, cfg.Scheduler.HealthCheck},
	}
	for _, j := range jobs {
		if err := sched.Register(j.job, j.spec); err != nil {
			logger.Fatal("Failed to register job",
				zap.String("job", j.job.Name()), zap.Error(err))
		}
	}
	if err := sched.StartAll(ctx); err != nil {
		logger.Fatal("Failed to start scheduler", zap.Error(err))
	}

	// HTTP server
	srv := httpserver.NewServer(httpserver.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, eng, templateService, processService, logger)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("Shutdown signal received", zap.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			logger.Error("Server exited with error", zap.Error(err))
		}
	}

	cancel()
	sched.StopAll()
	drainer.Stop()
	if err := srv.Stop(); err != nil {
		logger.Error("Failed to stop HTTP server", zap.Error(err))
	}

	logger.Info("Server stopped")
}
