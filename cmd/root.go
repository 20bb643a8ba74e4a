package cmd

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	app = "cv-intake"
)

type Config struct {
	IMAP     *IMAPConfig     `mapstructure:"imap"`
	Database *DatabaseConfig `mapstructure:"database"`
	AI       *AIConfig       `mapstructure:"ai"`
	SMTP     *SMTPConfig     `mapstructure:"smtp"`
	Storage  *StorageConfig  `mapstructure:"storage"`
	Events   *EventsConfig   `mapstructure:"events"`
}

type IMAPConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	TLS             bool          `mapstructure:"tls"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password" json:"-"`
	PasswordFile    string        `mapstructure:"password-file"`
	Mailbox         string        `mapstructure:"mailbox"`
	ProcessedFolder string        `mapstructure:"processed-folder"`
	FailedFolder    string        `mapstructure:"failed-folder"`
	PollInterval    time.Duration `mapstructure:"poll-interval"`
	PollIntervalMS  int           `mapstructure:"poll-interval-ms"`
	ReconnectDelay  time.Duration `mapstructure:"reconnect-delay"`
}

// Interval returns the poll interval. Milliseconds win when set.
func (c *IMAPConfig) Interval() time.Duration {
	if c.PollIntervalMS > 0 {
		return time.Duration(c.PollIntervalMS) * time.Millisecond
	}
	return c.PollInterval
}

type DatabaseConfig struct {
	URL string `mapstructure:"url" json:"-"`
}

type AIConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Provider        string        `mapstructure:"provider"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxResumeChars  int           `mapstructure:"max-resume-chars"`
	Instruction     string        `mapstructure:"instruction"`
	InstructionFile string        `mapstructure:"instruction-file"`
	Gemini          *GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKey       string `mapstructure:"api-key" json:"-"`
	APIKeyFile   string `mapstructure:"api-key-file"`
	Model        string `mapstructure:"model"`
	MaxRetries   int    `mapstructure:"max-retries"`
	MaxLogLength int    `mapstructure:"max-log-length"`
	Backend      string `mapstructure:"backend"`
	Project      string `mapstructure:"project"`
	Location     string `mapstructure:"location"`
}

type SMTPConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password" json:"-"`
	PasswordFile string `mapstructure:"password-file"`
	TLS          bool   `mapstructure:"tls"`
	FallbackFrom string `mapstructure:"fallback-from"`
}

type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	Local   *struct {
		Dir string `mapstructure:"dir"`
	} `mapstructure:"local"`
	S3 *struct {
		Bucket    string `mapstructure:"bucket"`
		Region    string `mapstructure:"region"`
		Endpoint  string `mapstructure:"endpoint"`
		AccessKey string `mapstructure:"access-key" json:"-"`
		SecretKey string `mapstructure:"secret-key" json:"-"`
	} `mapstructure:"s3"`
}

type EventsConfig struct {
	Backend string `mapstructure:"backend"`
	Redis   *struct {
		URL     string `mapstructure:"url" json:"-"`
		Channel string `mapstructure:"channel"`
	} `mapstructure:"redis"`
	AMQP *struct {
		URL      string `mapstructure:"url" json:"-"`
		Exchange string `mapstructure:"exchange"`
	} `mapstructure:"amqp"`
}

// defaults registers every key so that environment overrides reach Unmarshal.
var defaults = map[string]any{
	"imap.enabled":          true,
	"imap.host":             "",
	"imap.port":             993,
	"imap.tls":              true,
	"imap.user":             "",
	"imap.password":         "",
	"imap.password-file":    "",
	"imap.mailbox":          "INBOX",
	"imap.processed-folder": "Processed",
	"imap.failed-folder":    "Failed",
	"imap.poll-interval":    "10s",
	"imap.poll-interval-ms": 0,
	"imap.reconnect-delay":  "5s",

	"database.url": "",

	"ai.enabled":               true,
	"ai.provider":              "gemini",
	"ai.timeout":               "60s",
	"ai.max-resume-chars":      50000,
	"ai.instruction":           "",
	"ai.instruction-file":      "",
	"ai.gemini.api-key":        "",
	"ai.gemini.api-key-file":   "",
	"ai.gemini.model":          "gemini-2.5-flash",
	"ai.gemini.max-retries":    2,
	"ai.gemini.max-log-length": 200,
	"ai.gemini.backend":        "gemini",
	"ai.gemini.project":        "",
	"ai.gemini.location":       "",

	"smtp.host":          "",
	"smtp.port":          587,
	"smtp.user":          "",
	"smtp.password":      "",
	"smtp.password-file": "",
	"smtp.tls":           true,
	"smtp.fallback-from": "noreply@cv-intake.local",

	"storage.backend":       "local",
	"storage.local.dir":     "uploads",
	"storage.s3.bucket":     "",
	"storage.s3.region":     "auto",
	"storage.s3.endpoint":   "",
	"storage.s3.access-key": "",
	"storage.s3.secret-key": "",

	"events.backend":       "none",
	"events.redis.url":     "",
	"events.redis.channel": "applications",
	"events.amqp.url":      "",
	"events.amqp.exchange": "application_updates",
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "cv-intake turns application emails into scored candidates",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is cv-intake.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))

	configure(viper.GetViper())
}

// configure applies defaults and environment binding to v.
func configure(v *viper.Viper) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

func initConfig() {
	// A missing .env is fine, a broken one is not.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("loading .env file: %v", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	// An explicit config must exist; the default one is optional.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			log.Fatal(err)
		}
	}
}

func getConfig() (*Config, error) {
	return loadConfig(viper.GetViper())
}

func loadConfig(v *viper.Viper) (*Config, error) {
	var config *Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if config == nil {
		return nil, errors.New("config is empty")
	}

	return config, nil
}
