package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/cv-intake/internal/ai"
	"github.com/spigell/cv-intake/internal/ai/gemini"
	"github.com/spigell/cv-intake/internal/events"
	"github.com/spigell/cv-intake/internal/ingestion"
	"github.com/spigell/cv-intake/internal/logger"
	"github.com/spigell/cv-intake/internal/mailbox"
	"github.com/spigell/cv-intake/internal/matching"
	"github.com/spigell/cv-intake/internal/notify"
	"github.com/spigell/cv-intake/internal/scoring"
	"github.com/spigell/cv-intake/internal/secrets"
	"github.com/spigell/cv-intake/internal/storage"
	"github.com/spigell/cv-intake/internal/store"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll the mailbox and process incoming applications",
	Run: func(cmd *cobra.Command, _ []string) {
		run(cmd)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().Duration("poll-interval", 0, "sleep between poll cycles (overrides imap.poll-interval)")
	viper.BindPFlag("imap.poll-interval", runCmd.Flags().Lookup("poll-interval"))
}

// run is the main command for the service.
func run(cmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, config := setup()

	logger.Info("starting the cv-intake", zap.String("version", version))

	if strings.TrimSpace(config.Database.URL) == "" {
		logger.Fatal("database url is required", zap.String("hint", "set database.url or DATABASE_URL"))
	}

	db, err := store.Connect(ctx, config.Database.URL)
	if err != nil {
		logger.Fatal("connecting to database", zap.Error(err))
	}
	defer db.Close()

	assessor, err := newAssessor(ctx, config.AI, logger)
	if err != nil {
		logger.Fatal("building ai assessor", zap.Error(err))
	}

	resumes, err := newStorage(ctx, config.Storage)
	if err != nil {
		logger.Fatal("building resume storage", zap.Error(err))
	}

	publisher, err := newPublisher(ctx, config.Events, logger)
	if err != nil {
		logger.Fatal("building event publisher", zap.Error(err))
	}
	defer publisher.Close()

	dispatcher, err := newDispatcher(config.SMTP, db, logger)
	if err != nil {
		logger.Fatal("building notification dispatcher", zap.Error(err))
	}

	processor := ingestion.NewProcessor(ingestion.Deps{
		Matcher:    matching.New(db, logger.Named("matching")),
		Repository: db,
		Storage:    resumes,
		Scorer:     scoring.NewEngine(assessor, config.AI.Timeout, logger.Named("scoring")),
		Notifier:   dispatcher,
		Events:     publisher,
		Logger:     logger.Named("ingestion"),
	})

	if !config.IMAP.Enabled {
		logger.Info("exiting", zap.String("reason", "imap.enabled is false, nothing to poll"))
		return
	}

	poller := ingestion.NewPoller(imapDialer(config.IMAP, logger), processor, ingestion.PollerConfig{
		Interval:        config.IMAP.Interval(),
		ProcessedFolder: config.IMAP.ProcessedFolder,
		FailedFolder:    config.IMAP.FailedFolder,
		ReconnectDelay:  config.IMAP.ReconnectDelay,
	}, logger.Named("poller"))

	if err := poller.Start(ctx); err != nil {
		logger.Fatal("starting mailbox poller", zap.Error(err))
	}
	if !poller.Enabled() {
		return
	}

	if err := poller.Run(ctx); err != nil {
		logger.Fatal("running mailbox poller", zap.Error(err))
	}

	logger.Info("exiting", zap.String("reason", "stopped"))
}

// setup builds the logger and reads the configuration. It exits on failure.
func setup() (*zap.Logger, *Config) {
	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(config, "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	return logger, config
}

func imapCredentials(cfg *IMAPConfig) (mailbox.Credentials, error) {
	password, err := secrets.LoadOptional(secrets.Source{
		Name:  "imap password",
		Value: cfg.Password,
		File:  cfg.PasswordFile,
	})
	if err != nil {
		return mailbox.Credentials{}, err
	}

	return mailbox.Credentials{
		Host:     cfg.Host,
		Port:     cfg.Port,
		TLS:      cfg.TLS,
		User:     cfg.User,
		Password: password,
	}, nil
}

// imapDialer returns an ingestion.Dialer that never yields a typed nil session.
func imapDialer(cfg *IMAPConfig, logger *zap.Logger) ingestion.Dialer {
	return func(ctx context.Context) (ingestion.Session, error) {
		creds, err := imapCredentials(cfg)
		if err != nil {
			return nil, err
		}

		session, err := mailbox.Dial(ctx, creds, cfg.Mailbox, logger.Named("mailbox"))
		if err != nil {
			return nil, err
		}
		return session, nil
	}
}

// newAssessor returns a nil assessor when AI scoring is disabled or has no key,
// which makes the engine run the rule-based fallback only.
func newAssessor(ctx context.Context, cfg *AIConfig, base *zap.Logger) (ai.Assessor, error) {
	if !cfg.Enabled {
		base.Info("ai scoring is disabled, using rule-based scoring only")
		return nil, nil
	}

	provider := strings.TrimSpace(strings.ToLower(cfg.Provider))
	if provider != "" && provider != "gemini" {
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}

	gcfg := cfg.Gemini
	if gcfg == nil {
		gcfg = &GeminiConfig{}
	}

	apiKey, err := secrets.LoadOptional(secrets.Source{
		Name:  "gemini api key",
		Value: gcfg.APIKey,
		File:  gcfg.APIKeyFile,
	})
	if err != nil {
		return nil, err
	}
	if apiKey == "" && !strings.EqualFold(gcfg.Backend, gemini.BackendVertex) {
		base.Warn("gemini api key is not configured, using rule-based scoring only",
			zap.String("hint", "set ai.gemini.api-key-file or AI_GEMINI_API_KEY"),
		)
		return nil, nil
	}

	instruction, err := secrets.LoadOptional(secrets.Source{
		Name:  "ai instruction",
		Value: cfg.Instruction,
		File:  cfg.InstructionFile,
	})
	if err != nil {
		return nil, err
	}

	aiLogger := logger.WithAI(base.Named("ai"), "gemini", gcfg.Model)

	generator, err := gemini.NewGenerator(ctx, gemini.Options{
		APIKey:     apiKey,
		Model:      gcfg.Model,
		Backend:    gcfg.Backend,
		Project:    gcfg.Project,
		Location:   gcfg.Location,
		MaxRetries: gcfg.MaxRetries,
	}, aiLogger.With(zap.Int("ai_retry_attempts", gcfg.MaxRetries)))
	if err != nil {
		return nil, err
	}

	return gemini.NewAssessor(generator, gemini.AssessorOptions{
		Instruction:    instruction,
		MaxResumeChars: cfg.MaxResumeChars,
		MaxLogLength:   gcfg.MaxLogLength,
	}, aiLogger), nil
}

func newStorage(ctx context.Context, cfg *StorageConfig) (storage.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "local":
		dir := ""
		if cfg.Local != nil {
			dir = cfg.Local.Dir
		}
		return storage.NewLocalStore(dir)
	case "s3":
		if cfg.S3 == nil {
			return nil, fmt.Errorf("storage.s3 section is required for the s3 backend")
		}
		return storage.NewS3Store(ctx, storage.S3Options{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		})
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}

func newPublisher(ctx context.Context, cfg *EventsConfig, logger *zap.Logger) (events.Publisher, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "none":
		return events.Nop{}, nil
	case "redis":
		if cfg.Redis == nil {
			return nil, fmt.Errorf("events.redis section is required for the redis backend")
		}
		logger.Info("publishing application events", zap.String("backend", "redis"), zap.String("channel", cfg.Redis.Channel))
		return events.NewRedisPublisher(ctx, cfg.Redis.URL, cfg.Redis.Channel)
	case "amqp":
		if cfg.AMQP == nil {
			return nil, fmt.Errorf("events.amqp section is required for the amqp backend")
		}
		logger.Info("publishing application events", zap.String("backend", "amqp"), zap.String("exchange", cfg.AMQP.Exchange))
		return events.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
	default:
		return nil, fmt.Errorf("unsupported events backend: %s", cfg.Backend)
	}
}

func newDispatcher(cfg *SMTPConfig, sendLog notify.SendLog, logger *zap.Logger) (*notify.Dispatcher, error) {
	renderer, err := notify.NewRenderer()
	if err != nil {
		return nil, err
	}

	// mailer stays a nil interface when smtp is not configured.
	var mailer notify.Mailer
	if strings.TrimSpace(cfg.Host) != "" {
		password, err := secrets.LoadOptional(secrets.Source{
			Name:  "smtp password",
			Value: cfg.Password,
			File:  cfg.PasswordFile,
		})
		if err != nil {
			return nil, err
		}

		smtp, err := notify.NewSMTPMailer(notify.SMTPConfig{
			Host:     cfg.Host,
			Port:     cfg.Port,
			User:     cfg.User,
			Password: password,
			TLS:      cfg.TLS,
		}, logger.Named("smtp"))
		if err != nil {
			return nil, err
		}
		mailer = smtp
	} else {
		logger.Warn("smtp host is not configured, notifications will only be recorded",
			zap.String("hint", "set smtp.host or SMTP_HOST"),
		)
	}

	return notify.NewDispatcher(mailer, renderer, sendLog, cfg.FallbackFrom, logger.Named("notify")), nil
}
