package internal

import (
	"fmt"
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/codex/internal/storage"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Storage StorageConfig     `yaml:"storage"`
	UndoLog UndoLogConfig     `yaml:"undo_log"`
	Auth    AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := c.UndoLog.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// StorageConfig selects the storage driver.
//
// Path is the data directory for the fs and badger drivers and the
// database file for sqlite. DSN is only used by postgres. Watch enables
// detection of records modified outside the process; other drivers ignore
// it.
type StorageConfig struct {
	Driver    string `yaml:"driver"`
	Path      string `yaml:"path"`
	DSN       string `yaml:"dsn"`
	CacheSize int    `yaml:"cache_size"`
	Watch     bool   `yaml:"watch"`
}

// Validate validates the storage configuration.
func (c *StorageConfig) Validate() error {
	needsPath := c.Driver == storage.DriverFS || c.Driver == storage.DriverSQLite || c.Driver == storage.DriverBadger
	return validation.ValidateStruct(c,
		validation.Field(&c.Driver, validation.Required, validation.In(
			storage.DriverFS, storage.DriverSQLite, storage.DriverBadger, storage.DriverPostgres, storage.DriverMemory,
		)),
		validation.Field(&c.Path, validation.When(needsPath, validation.Required)),
		validation.Field(&c.DSN, validation.When(c.Driver == storage.DriverPostgres, validation.Required)),
		validation.Field(&c.CacheSize, validation.Min(0)),
	)
}

// Options converts the configuration into storage driver options.
func (c *StorageConfig) Options() storage.Options {
	return storage.Options{Driver: c.Driver, Path: c.Path, DSN: c.DSN}
}

// Watched reports whether external changes are detected.
func (c *StorageConfig) Watched() bool {
	return c.Watch && c.Driver == storage.DriverFS
}

// UndoLogConfig holds undo log configuration. A RotateThreshold of 0
// disables rotation.
type UndoLogConfig struct {
	RotateThreshold int `yaml:"rotate_threshold"`
}

// Validate validates the undo log configuration.
func (c *UndoLogConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.RotateThreshold, validation.Min(0)),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
//
// MCPUser is the id of the user the MCP server commits as. Empty means
// anonymous, which can only read.
type AuthConfig struct {
	Mode    string `yaml:"mode"`
	Token   string `yaml:"token"`
	MCPUser string `yaml:"mcp_user"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Storage: StorageConfig{
			Driver:    storage.DriverFS,
			Path:      "./data",
			CacheSize: 1024,
			Watch:     true,
		},
		UndoLog: UndoLogConfig{
			RotateThreshold: 1000,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
