package config

import (
	"errors"
	"io/fs"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type StoreConfig struct {
	Driver          string        `mapstructure:"driver"` // memory | postgres | sqlite
	DSN             string        `mapstructure:"dsn"`
	AutoMigrate     bool          `mapstructure:"autoMigrate"`
	ConnectAttempts uint          `mapstructure:"connectAttempts"`
	ConnectDelay    time.Duration `mapstructure:"connectDelay"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type AdminConfig struct {
	// DefaultUser is the login used when a request carries no user header.
	DefaultUser string `mapstructure:"defaultUser"`
	UserHeader  string `mapstructure:"userHeader"`
}

type FormConfig struct {
	CollectionPageSize int `mapstructure:"collectionPageSize"`
}

type SelectizeConfig struct {
	MaxResults int `mapstructure:"maxResults"`
}

type Config struct {
	Port          string          `mapstructure:"port"`
	ContextPath   string          `mapstructure:"contextPath"`
	DSLDir        string          `mapstructure:"dslDir"`
	EnumsDir      string          `mapstructure:"enumsDir"`
	SectionsFile  string          `mapstructure:"sectionsFile"`
	SecurityFile  string          `mapstructure:"securityFile"`
	MessagesDir   string          `mapstructure:"messagesDir"`
	TemplatesDir  string          `mapstructure:"templatesDir"` // empty = embedded templates
	DefaultLocale string          `mapstructure:"defaultLocale"`
	Store         StoreConfig     `mapstructure:"store"`
	Log           LogConfig       `mapstructure:"log"`
	Admin         AdminConfig     `mapstructure:"admin"`
	Form          FormConfig      `mapstructure:"form"`
	Selectize     SelectizeConfig `mapstructure:"selectize"`
}

var defaults = map[string]any{
	"port":                    "8080",
	"contextPath":             "/admin",
	"dslDir":                  "dsl",
	"enumsDir":                "reference/enums",
	"sectionsFile":            "reference/sections.yaml",
	"securityFile":            "config/security.yaml",
	"messagesDir":             "messages",
	"templatesDir":            "",
	"defaultLocale":           "en",
	"store.driver":            "memory",
	"store.dsn":               "",
	"store.autoMigrate":       true,
	"store.connectAttempts":   10,
	"store.connectDelay":      "2s",
	"log.level":               "info",
	"log.development":         false,
	"admin.defaultUser":       "",
	"admin.userHeader":        "X-Admin-User",
	"form.collectionPageSize": 50,
	"selectize.maxResults":    50,
}

// envBindings maps config keys to the environment variables that may set them.
var envBindings = map[string][]string{
	"port":                    {"OPENADMIN_PORT", "PORT"},
	"contextPath":             {"OPENADMIN_CONTEXT_PATH"},
	"dslDir":                  {"OPENADMIN_DSL_DIR"},
	"enumsDir":                {"OPENADMIN_ENUMS_DIR"},
	"sectionsFile":            {"OPENADMIN_SECTIONS_FILE"},
	"securityFile":            {"OPENADMIN_SECURITY_FILE"},
	"messagesDir":             {"OPENADMIN_MESSAGES_DIR"},
	"templatesDir":            {"OPENADMIN_TEMPLATES_DIR"},
	"defaultLocale":           {"OPENADMIN_DEFAULT_LOCALE"},
	"store.driver":            {"OPENADMIN_STORE_DRIVER"},
	"store.dsn":               {"OPENADMIN_STORE_DSN", "DATABASE_URL"},
	"store.autoMigrate":       {"OPENADMIN_STORE_AUTO_MIGRATE"},
	"store.connectAttempts":   {"OPENADMIN_STORE_CONNECT_ATTEMPTS"},
	"store.connectDelay":      {"OPENADMIN_STORE_CONNECT_DELAY"},
	"log.level":               {"OPENADMIN_LOG_LEVEL"},
	"log.development":         {"OPENADMIN_LOG_DEVELOPMENT"},
	"admin.defaultUser":       {"OPENADMIN_ADMIN_DEFAULT_USER"},
	"admin.userHeader":        {"OPENADMIN_ADMIN_USER_HEADER"},
	"form.collectionPageSize": {"OPENADMIN_FORM_COLLECTION_PAGE_SIZE"},
	"selectize.maxResults":    {"OPENADMIN_SELECTIZE_MAX_RESULTS"},
}

// flagBindings maps command-line flags to config keys.
var flagBindings = map[string]string{
	"port":         "port",
	"context-path": "contextPath",
	"dsl":          "dslDir",
	"enums":        "enumsDir",
	"sections":     "sectionsFile",
	"security":     "securityFile",
	"messages":     "messagesDir",
	"templates":    "templatesDir",
	"store":        "store.driver",
	"dsn":          "store.dsn",
	"auto-migrate": "store.autoMigrate",
	"log-level":    "log.level",
	"user":         "admin.defaultUser",
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("openadmin", pflag.ContinueOnError)
	fs.String("config", "openadmin.yaml", "Path to config file (yaml, json or toml)")
	fs.String("port", "", "HTTP port")
	fs.String("context-path", "", "URL prefix of the console")
	fs.String("dsl", "", "Path to DSL directory")
	fs.String("enums", "", "Path to enums directory")
	fs.String("sections", "", "Path to sections file")
	fs.String("security", "", "Path to security policy file")
	fs.String("messages", "", "Path to message catalogs")
	fs.String("templates", "", "Template override directory (empty = embedded)")
	fs.String("store", "", "Record store: memory, postgres or sqlite")
	fs.String("dsn", "", "Database DSN")
	fs.Bool("auto-migrate", true, "Create tables on start")
	fs.String("log-level", "", "Log level")
	fs.String("user", "", "Login used when no user header is sent")
	return fs
}

// Load layers defaults, the config file, environment and args (without the
// program name). A missing config file is not an error.
func Load(args []string) (*Config, error) {
	flags := newFlagSet()
	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	path, _ := flags.GetString("config")
	return load(path, flags)
}

// LoadFile reads path on top of defaults and environment.
func LoadFile(path string) (*Config, error) {
	return load(path, nil)
}

func load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	if err := bindEnvs(v); err != nil {
		return nil, err
	}
	if flags != nil {
		for name, key := range flagBindings {
			if f := flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, err
				}
			}
		}
	}
	if path != "" {
		if _, err := os.Stat(path); !errors.Is(err, fs.ErrNotExist) {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, err
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	cfg.ContextPath = "/" + strings.Trim(cfg.ContextPath, "/")
	if cfg.ContextPath == "/" {
		cfg.ContextPath = ""
	}
	return cfg, nil
}

func bindEnvs(v *viper.Viper) error {
	for key, envs := range envBindings {
		if err := v.BindEnv(slices.Insert(slices.Clone(envs), 0, key)...); err != nil {
			return err
		}
	}
	return nil
}
