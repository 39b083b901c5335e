package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir    string `toml:"data_dir"`
	ScratchDir string `toml:"scratch_dir"`
	LogDir     string `toml:"log_dir"`
}

// Store configures the job store database.
type Store struct {
	Path string `toml:"path"`
}

// Broker configures the message broker shared by every stage.
type Broker struct {
	Backend                  string `toml:"backend"`
	SQLitePath               string `toml:"sqlite_path"`
	RedisAddr                string `toml:"redis_addr"`
	RedisPassword            string `toml:"redis_password"`
	RedisDB                  int    `toml:"redis_db"`
	WaitTimeSeconds          int    `toml:"wait_time_seconds"`
	VisibilityTimeoutSeconds int    `toml:"visibility_timeout_seconds"`
	MaxReceiveCount          int    `toml:"max_receive_count"`
}

// Queues names the queue each stage consumes.
type Queues struct {
	Uploads  string `toml:"uploads"`
	Requests string `toml:"requests"`
	Results  string `toml:"results"`
	Archive  string `toml:"archive"`
	Restore  string `toml:"restore"`
	Thaw     string `toml:"thaw"`
}

// ObjectStore configures hot storage for inputs and results.
type ObjectStore struct {
	Backend              string `toml:"backend"`
	Endpoint             string `toml:"endpoint"`
	AccessKey            string `toml:"access_key"`
	SecretKey            string `toml:"secret_key"`
	Region               string `toml:"region"`
	UseSSL               bool   `toml:"use_ssl"`
	RootDir              string `toml:"root_dir"`
	InputsBucket         string `toml:"inputs_bucket"`
	ResultsBucket        string `toml:"results_bucket"`
	ResultsPrefix        string `toml:"results_prefix"`
	PresignExpirySeconds int    `toml:"presign_expiry_seconds"`
}

// Vault configures the cold archival tier.
type Vault struct {
	Name                string `toml:"name"`
	Bucket              string `toml:"bucket"`
	CatalogPath         string `toml:"catalog_path"`
	ExpeditedSeconds    int    `toml:"expedited_seconds"`
	StandardSeconds     int    `toml:"standard_seconds"`
	BulkSeconds         int    `toml:"bulk_seconds"`
	ExpeditedCapacity   int    `toml:"expedited_capacity"`
	StandardCapacity    int    `toml:"standard_capacity"`
	PollIntervalSeconds int    `toml:"poll_interval_seconds"`
}

// Accounts configures the user profile directory.
type Accounts struct {
	Backend    string `toml:"backend"`
	DSN        string `toml:"dsn"`
	SQLitePath string `toml:"sqlite_path"`
}

// Notifications contains configuration for completion notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Sender         string `toml:"sender"`
	Subject        string `toml:"subject"`
	ResultURL      string `toml:"result_url"`
}

// Processing configures the annotator stage.
type Processing struct {
	AnnotatorBinary          string `toml:"annotator_binary"`
	MaxConcurrentJobs        int    `toml:"max_concurrent_jobs"`
	HeartbeatIntervalSeconds int    `toml:"heartbeat_interval_seconds"`
	HeartbeatTimeoutSeconds  int    `toml:"heartbeat_timeout_seconds"`
	ReaperIntervalSeconds    int    `toml:"reaper_interval_seconds"`
	MinFreeSpaceMB           int    `toml:"min_free_space_mb"`
}

// Archive configures the free-tier archival policy.
type Archive struct {
	GraceSeconds int `toml:"grace_seconds"`
}

// Restore configures the tier-upgrade restore fan-out.
type Restore struct {
	Concurrency             int     `toml:"concurrency"`
	RequestsPerSecond       float64 `toml:"requests_per_second"`
	RetrievalTimeoutSeconds int     `toml:"retrieval_timeout_seconds"`
}

// API configures the HTTP surface.
type API struct {
	Bind  string `toml:"bind"`
	Token string `toml:"token"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format         string            `toml:"format"`
	Level          string            `toml:"level"`
	StageOverrides map[string]string `toml:"stage_overrides"`
}

// Config encapsulates all configuration values for gas.
//
// Configuration sections by subsystem:
//   - Paths: data, scratch and log directories
//   - Store: job store database
//   - Broker, Queues: message transport and per-stage queue names
//   - ObjectStore: hot storage for inputs and results
//   - Vault: cold archival storage and retrieval latencies
//   - Accounts: user profile and subscription tier lookup
//   - Notifications: completion notification delivery
//   - Processing, Archive, Restore: stage tuning
//   - API: HTTP bind address and token
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Store         Store         `toml:"store"`
	Broker        Broker        `toml:"broker"`
	Queues        Queues        `toml:"queues"`
	ObjectStore   ObjectStore   `toml:"object_store"`
	Vault         Vault         `toml:"vault"`
	Accounts      Accounts      `toml:"accounts"`
	Notifications Notifications `toml:"notifications"`
	Processing    Processing    `toml:"processing"`
	Archive       Archive       `toml:"archive"`
	Restore       Restore       `toml:"restore"`
	API           API           `toml:"api"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/gas/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := loadDotEnv(resolvedPath); err != nil {
		return nil, "", false, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// loadDotEnv overlays .env files found next to the config file and in the
// working directory. Variables already present in the environment win.
func loadDotEnv(configPath string) error {
	candidates := []string{}
	if configPath != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(configPath), ".env"))
	}
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, ".env"))
	}
	seen := map[string]struct{}{}
	for _, candidate := range candidates {
		if _, ok := seen[candidate]; ok {
			continue
		}
		seen[candidate] = struct{}{}
		if info, err := os.Stat(candidate); err != nil || info.IsDir() {
			continue
		}
		if err := godotenv.Load(candidate); err != nil {
			return fmt.Errorf("load %s: %w", candidate, err)
		}
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("gas.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the local directories the workers write into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.DataDir, c.Paths.ScratchDir, c.Paths.LogDir}
	if c.ObjectStore.Backend == ObjectStoreFilesystem {
		dirs = append(dirs, c.ObjectStore.RootDir)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// WaitTime is the broker long-poll duration.
func (b Broker) WaitTime() time.Duration {
	return time.Duration(b.WaitTimeSeconds) * time.Second
}

// VisibilityTimeout is how long a received message stays hidden.
func (b Broker) VisibilityTimeout() time.Duration {
	return time.Duration(b.VisibilityTimeoutSeconds) * time.Second
}

// HeartbeatInterval is how often a running job refreshes its claim.
func (p Processing) HeartbeatInterval() time.Duration {
	return time.Duration(p.HeartbeatIntervalSeconds) * time.Second
}

// HeartbeatTimeout is the age after which a running claim is considered abandoned.
func (p Processing) HeartbeatTimeout() time.Duration {
	return time.Duration(p.HeartbeatTimeoutSeconds) * time.Second
}

// ReaperInterval is how often abandoned claims are re-queued.
func (p Processing) ReaperInterval() time.Duration {
	return time.Duration(p.ReaperIntervalSeconds) * time.Second
}

// RetrievalTimeout is how long a requested retrieval may stay unfinished
// before a redelivered upgrade requests it again.
func (r Restore) RetrievalTimeout() time.Duration {
	return time.Duration(r.RetrievalTimeoutSeconds) * time.Second
}

// ClaimLimit caps how often the reaper re-queues one job. It mirrors the
// broker's dead-letter threshold and never disables the cap.
func (b Broker) ClaimLimit() int {
	if b.MaxReceiveCount <= 0 {
		return defaultBrokerMaxReceiveCount
	}
	return b.MaxReceiveCount
}

// Grace is the free-tier download window and the archive queue delay.
func (a Archive) Grace() time.Duration {
	return time.Duration(a.GraceSeconds) * time.Second
}

// PollInterval is how often the vault completer looks for finished retrievals.
func (v Vault) PollInterval() time.Duration {
	if v.PollIntervalSeconds <= 0 {
		return time.Second
	}
	return time.Duration(v.PollIntervalSeconds) * time.Second
}

// PresignExpiry is the lifetime of download links handed to clients.
func (o ObjectStore) PresignExpiry() time.Duration {
	return time.Duration(o.PresignExpirySeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
