package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"course_reminder_service/internal/app"
	"course_reminder_service/internal/domain/course"
	"course_reminder_service/internal/domain/reminder"
	"course_reminder_service/internal/infra/config"
	idb "course_reminder_service/internal/infra/database"
	"course_reminder_service/internal/infra/email"
	"course_reminder_service/internal/infra/httpapi"
	"course_reminder_service/internal/infra/logger"
	"course_reminder_service/internal/infra/mongodb"
	"course_reminder_service/internal/infra/scheduler"
	"course_reminder_service/internal/infra/telegram"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

const shutdownTimeout = 30 * time.Second

func main() {
	fmt.Println("Course Reminder Service starting...")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Could not load application configuration: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg)
	mainLogger := logger.Component("main")
	mainLogger.WithFields(logrus.Fields{
		"course_store":   cfg.CourseStore,
		"email_provider": cfg.EmailProvider,
		"environment":    cfg.Environment,
	}).Info("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	courses, historyWriter, closeStore, err := openCourseStore(ctx, cfg)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not open course store")
	}
	defer closeStore()
	mainLogger.Info("Course store connected")

	sender, err := email.NewTemplateSender(newTransport(cfg), email.DefaultTemplates())
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not parse e-mail templates")
	}

	var bot *telebot.Bot
	var alerts *app.AlertService
	if cfg.TelegramToken != "" {
		bot, err = newBot(cfg)
		if err != nil {
			mainLogger.WithError(err).Fatal("Could not create Telegram bot")
		}
		alerts = app.NewAlertService(telegram.NewTelebotAdapter(bot), logger.Component("telegram"), cfg.AdminTelegramID)
	}

	opts := app.SchedulerOptions{
		SendInterval:    cfg.ReminderSendInterval,
		SendTimeout:     cfg.ReminderSendTimeout,
		HistoryCapacity: cfg.ReminderHistoryCapacity,
	}
	if alerts != nil {
		opts.OnExecuted = alerts.NotifyExecuted
	}
	reminderScheduler := app.NewReminderScheduler(courses, sender, historyWriter, logger.Component("app"), opts)

	scheduled := reminderScheduler.ScheduleAllUpcomingReminders(ctx)
	mainLogger.WithField("scheduled", scheduled).Info("Upcoming course reminders restored")

	maintenance := scheduler.NewMaintenanceScheduler(reminderScheduler, logger.Component("maintenance"), cfg.CronSpecCleanup, cfg.CronSpecSweep)
	if err := maintenance.Start(); err != nil {
		mainLogger.WithError(err).Fatal("Could not start maintenance scheduler")
	}

	api := httpapi.NewServer(reminderScheduler, logger.Component("http"), cfg.HTTPAddr)
	go func() {
		if err := api.Start(); err != nil {
			mainLogger.WithError(err).Error("HTTP API stopped unexpectedly")
			stop()
		}
	}()

	if bot != nil {
		adminService := app.NewAdminService(reminderScheduler, cfg.AdminTelegramID)
		botLogger := logger.Component("telegram")
		handlers := telegram.NewAdminHandlers(adminService, botLogger, time.Local)
		telegram.RegisterBotCommands(bot, handlers, botLogger)
		telegram.RegisterAdminHandlers(ctx, bot, handlers)
		telegram.RegisterCallbackHandlers(bot, handlers)
		go bot.Start()
		mainLogger.Info("Telegram admin bot started")
	}

	mainLogger.Info("Application setup complete")
	<-ctx.Done()

	mainLogger.Info("Shutting down application...")
	if bot != nil {
		bot.Stop()
	}
	maintenance.Stop()

	cancelled := reminderScheduler.Shutdown()
	mainLogger.WithField("cancelled_jobs", cancelled).Info("Reminder scheduler shut down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := reminderScheduler.Wait(shutdownCtx); err != nil {
		mainLogger.WithError(err).Warn("Timed out waiting for in-flight reminders")
	}
	if err := api.Shutdown(shutdownCtx); err != nil {
		mainLogger.WithError(err).Warn("HTTP API shutdown failed")
	}
	mainLogger.Info("Application shut down gracefully.")
}

func openCourseStore(ctx context.Context, cfg *config.AppConfig) (course.Repository, reminder.HistoryWriter, func(), error) {
	switch cfg.CourseStore {
	case config.StoreMongo:
		client, db, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, nil, err
		}
		repo := mongodb.NewCourseRepository(db)
		closeFn := func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(ctx)
		}
		return repo, repo, closeFn, nil
	default:
		db, err := idb.NewPostgresConnection(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		closeFn := func() { closeDB(db) }
		return idb.NewPostgresCourseRepository(db), idb.NewPostgresHistoryRepository(db), closeFn, nil
	}
}

func closeDB(db *sql.DB) {
	if err := db.Close(); err != nil {
		logger.Component("main").WithError(err).Warn("Closing database failed")
	}
}

func newTransport(cfg *config.AppConfig) email.Transport {
	switch cfg.EmailProvider {
	case config.EmailProviderSMTP:
		return email.NewSMTPTransport(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.FromEmail)
	case config.EmailProviderResend:
		return email.NewResendTransport(cfg.ResendAPIKey, cfg.FromEmail)
	default:
		return email.NewConsoleTransport(logger.Component("email"))
	}
}

func newBot(cfg *config.AppConfig) (*telebot.Bot, error) {
	botLogger := logger.Component("telebot")
	pref := telebot.Settings{
		Token:  cfg.TelegramToken,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c telebot.Context) {
			entry := botLogger.WithError(err)
			if c != nil && c.Sender() != nil && c.Chat() != nil {
				entry = entry.WithFields(logrus.Fields{"sender_id": c.Sender().ID, "chat_id": c.Chat().ID})
			}
			entry.Error("Telegram handler error")
		},
	}
	return telebot.NewBot(pref)
}
