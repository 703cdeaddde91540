// Package config defines the configuration contract: hardcoded defaults,
// a YAML settings file deep-merged over them, and environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"tg_ocr_bot/internal/store"
)

const (
	// Canonical environment variable keys. Environment values win over the
	// settings file.
	KeyTelegramToken = "TELEGRAM_TOKEN"
	KeyBotOwner      = "BOT_OWNER"
	KeyMongoURI      = "MONGO_URI"
	KeyMongoDB       = "MONGO_DB"
	KeyAppEnv        = "APP_ENV"
	KeyLogLevel      = "LOG_LEVEL"
	KeyHTTPPort      = "HTTP_PORT"

	// Allowed environment values.
	EnvDevelopment = "development"
	EnvProduction  = "production"

	// Defaults for optional settings.
	DefaultAppEnv     = EnvProduction
	DefaultLogLevel   = "info"
	DefaultHTTPPort   = 8080
	DefaultConfPath   = "conf.yaml"
	DefaultAccessPath = "access.yaml"
	DefaultLogFile    = "bot.log"
	DefaultAuditFile  = "unknown_messages.log"

	// Reference pipeline behavior.
	DefaultOCRLanguage = "rus"
	DefaultRasterDPI   = 100
	DefaultChunkLimit  = 4000
)

// VarSpec describes a single environment override.
type VarSpec struct {
	Key         string // environment variable name
	Example     string // human-friendly sample value
	Description string // what the variable controls
}

// Contract enumerates the environment overrides the bot honors on top of the
// settings file. .env loading is only permitted when APP_ENV=development;
// production must rely on environment variables supplied by the runtime.
var Contract = []VarSpec{
	{Key: KeyTelegramToken, Example: "123:ABC", Description: "Telegram Bot Token issued by BotFather; overrides access.token."},
	{Key: KeyBotOwner, Example: "123456789", Description: "Telegram user_id seeded into the admin list at startup."},
	{Key: KeyMongoURI, Example: "mongodb://localhost:27017", Description: "MongoDB connection string for the processing history; empty disables it."},
	{Key: KeyMongoDB, Example: "tg_ocr_bot", Description: "MongoDB database name for the processing history."},
	{Key: KeyAppEnv, Example: EnvDevelopment + " / " + EnvProduction, Description: "Runtime environment; controls log format and dotenv usage."},
	{Key: KeyLogLevel, Example: DefaultLogLevel, Description: "Overrides logging.level."},
	{Key: KeyHTTPPort, Example: strconv.Itoa(DefaultHTTPPort), Description: "HTTP health/diagnostics port."},
}

// Config mirrors resolved configuration values after loading. Immutable after
// startup; there is no live reload.
type Config struct {
	Access    AccessConfig    `yaml:"access"`
	Bot       BotConfig       `yaml:"bot"`
	Tesseract TesseractConfig `yaml:"tesseract"`
	PDF       PDFConfig       `yaml:"pdf"`
	Chunk     ChunkConfig     `yaml:"chunk"`
	Logging   LoggingConfig   `yaml:"logging"`
	Mongo     MongoConfig     `yaml:"mongo"`
	HTTP      HTTPConfig      `yaml:"http"`

	// AppEnv and OwnerID come from the environment only.
	AppEnv  string `yaml:"-"`
	OwnerID int64  `yaml:"-"`
}

// AccessConfig holds the transport credential and the access-file location.
type AccessConfig struct {
	Token string `yaml:"token"`
	File  string `yaml:"file"`
}

// BotConfig carries the alternative token key honored for compatibility.
type BotConfig struct {
	Token string `yaml:"token"`
}

// TesseractConfig selects the OCR engine behavior.
type TesseractConfig struct {
	// Cmd, when set, switches recognition to invoking this tesseract binary
	// instead of the built-in bindings.
	Cmd  string `yaml:"cmd"`
	Lang string `yaml:"lang"`
}

// PDFConfig controls rasterization.
type PDFConfig struct {
	DPI int `yaml:"dpi"`
}

// ChunkConfig bounds outbound reply sizes.
type ChunkConfig struct {
	Limit int `yaml:"limit"`
}

// LoggingConfig names the log sinks.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	File      string `yaml:"file"`
	AuditFile string `yaml:"audit_file"`
}

// MongoConfig enables the optional processing-history store when non-empty.
type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// HTTPConfig configures the health endpoint.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// defaultTree returns the hardcoded settings written out verbatim when no
// settings file exists yet.
func defaultTree() store.Tree {
	return store.Tree{
		"access": store.Tree{
			"token": "",
			"file":  DefaultAccessPath,
		},
		"bot": store.Tree{
			"token": "",
		},
		"tesseract": store.Tree{
			"cmd":  "",
			"lang": DefaultOCRLanguage,
		},
		"pdf": store.Tree{
			"dpi": DefaultRasterDPI,
		},
		"chunk": store.Tree{
			"limit": DefaultChunkLimit,
		},
		"logging": store.Tree{
			"level":      DefaultLogLevel,
			"file":       DefaultLogFile,
			"audit_file": DefaultAuditFile,
		},
		"mongo": store.Tree{
			"uri":      "",
			"database": "",
		},
		"http": store.Tree{
			"port": DefaultHTTPPort,
		},
	}
}

// Load resolves configuration by deep-merging the YAML file at path over the
// defaults, writing the defaults out when the file is absent, and applying
// environment overrides (with optional dotenv in development). An unreadable
// or unwritable settings file is a startup failure.
func Load(path string) (Config, error) {
	appEnv, err := resolveAppEnv()
	if err != nil {
		return Config{}, err
	}

	if err := loadDotEnv(appEnv); err != nil {
		return Config{}, err
	}

	merged, existed, err := store.Load(path, defaultTree())
	if err != nil {
		return Config{}, err
	}
	if !existed {
		if err := store.Save(path, merged); err != nil {
			return Config{}, fmt.Errorf("write initial settings: %w", err)
		}
	}

	cfg, err := decode(merged)
	if err != nil {
		return Config{}, err
	}

	cfg.AppEnv = firstNonEmpty(normalizeEnv(os.Getenv(KeyAppEnv)), appEnv)
	if err := validateAppEnv(cfg.AppEnv); err != nil {
		return Config{}, err
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}

	if cfg.Token() == "" {
		return Config{}, fmt.Errorf("missing bot token: set access.token in %s or %s", path, KeyTelegramToken)
	}
	if cfg.PDF.DPI <= 0 {
		return Config{}, fmt.Errorf("pdf.dpi must be greater than 0, got %d", cfg.PDF.DPI)
	}
	if cfg.Chunk.Limit <= 0 {
		return Config{}, fmt.Errorf("chunk.limit must be greater than 0, got %d", cfg.Chunk.Limit)
	}
	if strings.TrimSpace(cfg.Access.File) == "" {
		return Config{}, errors.New("access.file must not be empty")
	}

	return cfg, nil
}

// Token returns the transport credential, preferring access.token over the
// legacy bot.token key.
func (c Config) Token() string {
	if token := strings.TrimSpace(c.Access.Token); token != "" {
		return token
	}
	return strings.TrimSpace(c.Bot.Token)
}

// HistoryEnabled reports whether the Mongo processing history is configured.
func (c Config) HistoryEnabled() bool {
	return strings.TrimSpace(c.Mongo.URI) != "" && strings.TrimSpace(c.Mongo.Database) != ""
}

// IsDevelopment reports if APP_ENV is development.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment
}

// FormatRedacted renders the resolved configuration with credentials masked.
func FormatRedacted(cfg Config) string {
	var b strings.Builder
	fmt.Fprintf(&b, "env: %s\n", cfg.AppEnv)
	fmt.Fprintf(&b, "token: %s\n", redact(cfg.Token()))
	fmt.Fprintf(&b, "access file: %s\n", cfg.Access.File)
	fmt.Fprintf(&b, "tesseract: cmd=%q lang=%s\n", cfg.Tesseract.Cmd, cfg.Tesseract.Lang)
	fmt.Fprintf(&b, "pdf dpi: %d\n", cfg.PDF.DPI)
	fmt.Fprintf(&b, "chunk limit: %d\n", cfg.Chunk.Limit)
	fmt.Fprintf(&b, "logging: level=%s file=%s audit=%s\n", cfg.Logging.Level, cfg.Logging.File, cfg.Logging.AuditFile)
	fmt.Fprintf(&b, "history: enabled=%t db=%s\n", cfg.HistoryEnabled(), cfg.Mongo.Database)
	fmt.Fprintf(&b, "http port: %d", cfg.HTTP.Port)
	return b.String()
}

// decode round-trips the merged tree through YAML into the typed schema so the
// same tag set governs files and defaults.
func decode(tree store.Tree) (Config, error) {
	raw, err := yaml.Marshal(tree)
	if err != nil {
		return Config{}, fmt.Errorf("encode merged settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode merged settings: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if token := strings.TrimSpace(os.Getenv(KeyTelegramToken)); token != "" {
		cfg.Access.Token = token
	}
	if level := strings.TrimSpace(os.Getenv(KeyLogLevel)); level != "" {
		cfg.Logging.Level = level
	}
	if uri := strings.TrimSpace(os.Getenv(KeyMongoURI)); uri != "" {
		cfg.Mongo.URI = uri
	}
	if db := strings.TrimSpace(os.Getenv(KeyMongoDB)); db != "" {
		cfg.Mongo.Database = db
	}

	if ownerRaw := strings.TrimSpace(os.Getenv(KeyBotOwner)); ownerRaw != "" {
		ownerID, err := strconv.ParseInt(ownerRaw, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", KeyBotOwner, err)
		}
		cfg.OwnerID = ownerID
	}

	if portRaw := strings.TrimSpace(os.Getenv(KeyHTTPPort)); portRaw != "" {
		port, err := strconv.Atoi(portRaw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", KeyHTTPPort, err)
		}
		if port <= 0 {
			return fmt.Errorf("%s must be greater than 0", KeyHTTPPort)
		}
		cfg.HTTP.Port = port
	}

	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = DefaultHTTPPort
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = DefaultLogLevel
	}

	return nil
}

func resolveAppEnv() (string, error) {
	if explicit := normalizeEnv(os.Getenv(KeyAppEnv)); explicit != "" {
		return explicit, nil
	}

	dotEnvValues, err := godotenv.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultAppEnv, nil
		}
		return "", fmt.Errorf("read .env: %w", err)
	}

	if envFromFile := normalizeEnv(dotEnvValues[KeyAppEnv]); envFromFile != "" {
		return envFromFile, nil
	}

	return DefaultAppEnv, nil
}

func loadDotEnv(appEnv string) error {
	if appEnv != EnvDevelopment {
		return nil
	}

	if err := godotenv.Load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}

	return nil
}

func validateAppEnv(appEnv string) error {
	if appEnv == EnvDevelopment || appEnv == EnvProduction {
		return nil
	}

	return fmt.Errorf("invalid %s: must be %q or %q", KeyAppEnv, EnvDevelopment, EnvProduction)
}

func normalizeEnv(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}

func redact(token string) string {
	if token == "" {
		return "(unset)"
	}
	if len(token) <= 4 {
		return "****"
	}
	return token[:4] + "****"
}
