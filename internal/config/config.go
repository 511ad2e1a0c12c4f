// Package config provides YAML and environment based configuration loading
// for the catalog backend.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the top-level backend configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	GitHub        GitHubConfig        `yaml:"github"`
	ObjectStorage ObjectStorageConfig `yaml:"object_storage"`
	Processing    ProcessingConfig    `yaml:"processing"`
	Database      DatabaseConfig      `yaml:"database"`
	Sync          SyncConfig          `yaml:"sync"`
	Notify        NotifyConfig        `yaml:"notify"`
	DefaultUser   string              `yaml:"default_user"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	LogLevel    string `yaml:"log_level"`
	Development bool   `yaml:"development"`
}

// GitHubConfig identifies the catalog repository that submissions go to.
type GitHubConfig struct {
	Token      string `yaml:"token"`
	RepoID     string `yaml:"repo_id"`
	MainBranch string `yaml:"main_branch"`
	APIURL     string `yaml:"api_url"`
}

// ObjectStorageConfig holds S3-compatible storage settings.
type ObjectStorageConfig struct {
	EndpointURL     string `yaml:"endpoint_url"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
}

// ProcessingConfig holds remote processing settings.
type ProcessingConfig struct {
	BackendMappingFile         string        `yaml:"backend_mapping_file"`
	ResourceCatalogMetadataURL string        `yaml:"resource_catalog_metadata_url"`
	Timeout                    time.Duration `yaml:"timeout"`
}

// DatabaseConfig selects the submission ledger database.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// SyncConfig schedules the pull request state sync.
type SyncConfig struct {
	Schedule string `yaml:"schedule"`
	Disabled bool   `yaml:"disabled"`
}

// NotifyConfig holds chat webhook targets. Empty values disable a target.
type NotifyConfig struct {
	SlackWebhookURL   string `yaml:"slack_webhook_url"`
	DiscordWebhookURL string `yaml:"discord_webhook_url"`
}

// Load reads an optional YAML config file from path, overlays the process
// environment and returns a validated Config.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse: %w", err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Parse unmarshals YAML bytes into a validated Config without consulting
// the environment.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv overlays values found through lookup onto c. Unset variables
// leave the existing value alone.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := []struct {
		key string
		dst *string
	}{
		{"GITHUB_TOKEN", &c.GitHub.Token},
		{"GITHUB_REPO_ID", &c.GitHub.RepoID},
		{"GITHUB_MAIN_BRANCH", &c.GitHub.MainBranch},
		{"GITHUB_API_URL", &c.GitHub.APIURL},
		{"OBJECT_STORAGE_ENDPOINT_URL", &c.ObjectStorage.EndpointURL},
		{"OBJECT_STORAGE_ACCESS_KEY_ID", &c.ObjectStorage.AccessKeyID},
		{"OBJECT_STORAGE_SECRET_ACCESS_KEY", &c.ObjectStorage.SecretAccessKey},
		{"OBJECT_STORAGE_BUCKET", &c.ObjectStorage.Bucket},
		{"OBJECT_STORAGE_REGION", &c.ObjectStorage.Region},
		{"REMOTE_PROCESSING_BACKEND_MAPPING_FILE_PATH", &c.Processing.BackendMappingFile},
		{"RESOURCE_CATALOG_METADATA_URL", &c.Processing.ResourceCatalogMetadataURL},
		{"DATABASE_DRIVER", &c.Database.Driver},
		{"DATABASE_DSN", &c.Database.DSN},
		{"SYNC_SCHEDULE", &c.Sync.Schedule},
		{"SLACK_WEBHOOK_URL", &c.Notify.SlackWebhookURL},
		{"DISCORD_WEBHOOK_URL", &c.Notify.DiscordWebhookURL},
		{"DEFAULT_USER", &c.DefaultUser},
		{"LOG_LEVEL", &c.Server.LogLevel},
	}
	for _, s := range strs {
		if v, ok := lookup(s.key); ok {
			*s.dst = v
		}
	}
	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: PORT: %w", err)
		}
		c.Server.Port = port
	}
	return nil
}

// applyDefaults fills in default values.
func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 5000
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.GitHub.MainBranch == "" {
		c.GitHub.MainBranch = "main"
	}
	if c.ObjectStorage.Bucket == "" {
		c.ObjectStorage.Bucket = "osc-submissions"
	}
	if c.ObjectStorage.Region == "" {
		c.ObjectStorage.Region = "us-east-1"
	}
	if c.Processing.Timeout == 0 {
		c.Processing.Timeout = 120 * time.Second
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.DSN == "" && c.Database.Driver == "sqlite" {
		c.Database.DSN = "osc-backend.db"
	}
	if c.Sync.Schedule == "" {
		c.Sync.Schedule = "*/5 * * * *"
	}
	if c.DefaultUser == "" {
		c.DefaultUser = "anonymous"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.GitHub.Token == "" {
		errs = append(errs, "github token is required")
	}
	if c.GitHub.RepoID == "" {
		errs = append(errs, "github repo id is required")
	} else if _, _, ok := splitRepoID(c.GitHub.RepoID); !ok {
		errs = append(errs, fmt.Sprintf("github repo id %q must be owner/name", c.GitHub.RepoID))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server port %d out of range", c.Server.Port))
	}
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("unknown database driver %q", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, "database dsn is required")
	}
	if _, err := CronParser.Parse(c.Sync.Schedule); err != nil {
		errs = append(errs, fmt.Sprintf("sync schedule %q: %v", c.Sync.Schedule, err))
	}
	if c.ObjectStorage.EndpointURL != "" {
		if c.ObjectStorage.AccessKeyID == "" || c.ObjectStorage.SecretAccessKey == "" {
			errs = append(errs, "object storage credentials are required when an endpoint is set")
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// CronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var CronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Owner returns the owner half of the repo id.
func (c *Config) Owner() string {
	owner, _, _ := splitRepoID(c.GitHub.RepoID)
	return owner
}

// Repo returns the repository name half of the repo id.
func (c *Config) Repo() string {
	_, repo, _ := splitRepoID(c.GitHub.RepoID)
	return repo
}

// ListenAddr returns host:port for the HTTP server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func splitRepoID(id string) (string, string, bool) {
	owner, repo, ok := strings.Cut(id, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", false
	}
	return owner, repo, true
}
