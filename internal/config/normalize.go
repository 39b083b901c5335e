package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeBroker(); err != nil {
		return err
	}
	if err := c.normalizeObjectStore(); err != nil {
		return err
	}
	if err := c.normalizeVault(); err != nil {
		return err
	}
	if err := c.normalizeAccounts(); err != nil {
		return err
	}
	c.normalizeQueues()
	c.normalizeNotifications()
	c.normalizeAPI()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ScratchDir) == "" {
		c.Paths.ScratchDir = filepath.Join(c.Paths.DataDir, "scratch")
	}
	if c.Paths.ScratchDir, err = expandPath(c.Paths.ScratchDir); err != nil {
		return fmt.Errorf("paths.scratch_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.DataDir, "logs")
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Store.Path, err = c.dataFile(c.Store.Path, "gas.db"); err != nil {
		return fmt.Errorf("store.path: %w", err)
	}
	return nil
}

// dataFile expands value, falling back to name under the data directory.
func (c *Config) dataFile(value, name string) (string, error) {
	if strings.TrimSpace(value) == "" {
		return filepath.Join(c.Paths.DataDir, name), nil
	}
	return expandPath(value)
}

func (c *Config) normalizeBroker() error {
	c.Broker.Backend = strings.ToLower(strings.TrimSpace(c.Broker.Backend))
	if c.Broker.Backend == "" {
		c.Broker.Backend = BrokerSQLite
	}
	var err error
	if c.Broker.SQLitePath, err = c.dataFile(c.Broker.SQLitePath, "broker.db"); err != nil {
		return fmt.Errorf("broker.sqlite_path: %w", err)
	}
	c.Broker.RedisAddr = strings.TrimSpace(c.Broker.RedisAddr)
	if c.Broker.RedisPassword == "" {
		if value, ok := os.LookupEnv("GAS_REDIS_PASSWORD"); ok {
			c.Broker.RedisPassword = value
		}
	}
	if c.Broker.WaitTimeSeconds < 0 {
		c.Broker.WaitTimeSeconds = 0
	}
	return nil
}

func (c *Config) normalizeQueues() {
	c.Queues.Uploads = strings.TrimSpace(c.Queues.Uploads)
	c.Queues.Requests = strings.TrimSpace(c.Queues.Requests)
	c.Queues.Results = strings.TrimSpace(c.Queues.Results)
	c.Queues.Archive = strings.TrimSpace(c.Queues.Archive)
	c.Queues.Restore = strings.TrimSpace(c.Queues.Restore)
	c.Queues.Thaw = strings.TrimSpace(c.Queues.Thaw)
}

func (c *Config) normalizeObjectStore() error {
	c.ObjectStore.Backend = strings.ToLower(strings.TrimSpace(c.ObjectStore.Backend))
	if c.ObjectStore.Backend == "" {
		c.ObjectStore.Backend = ObjectStoreFilesystem
	}
	var err error
	if c.ObjectStore.RootDir, err = c.dataFile(c.ObjectStore.RootDir, "objects"); err != nil {
		return fmt.Errorf("object_store.root_dir: %w", err)
	}
	c.ObjectStore.Endpoint = strings.TrimSpace(c.ObjectStore.Endpoint)
	if c.ObjectStore.AccessKey == "" {
		if value, ok := os.LookupEnv("GAS_OBJECT_STORE_ACCESS_KEY"); ok {
			c.ObjectStore.AccessKey = strings.TrimSpace(value)
		}
	}
	if c.ObjectStore.SecretKey == "" {
		if value, ok := os.LookupEnv("GAS_OBJECT_STORE_SECRET_KEY"); ok {
			c.ObjectStore.SecretKey = strings.TrimSpace(value)
		}
	}
	c.ObjectStore.ResultsPrefix = strings.Trim(strings.TrimSpace(c.ObjectStore.ResultsPrefix), "/")
	if c.ObjectStore.PresignExpirySeconds <= 0 {
		c.ObjectStore.PresignExpirySeconds = defaultPresignExpirySeconds
	}
	return nil
}

func (c *Config) normalizeVault() error {
	var err error
	if c.Vault.CatalogPath, err = c.dataFile(c.Vault.CatalogPath, "vault.db"); err != nil {
		return fmt.Errorf("vault.catalog_path: %w", err)
	}
	c.Vault.Name = strings.TrimSpace(c.Vault.Name)
	if c.Vault.Name == "" {
		c.Vault.Name = defaultVaultName
	}
	c.Vault.Bucket = strings.TrimSpace(c.Vault.Bucket)
	if c.Vault.Bucket == "" {
		c.Vault.Bucket = defaultVaultBucket
	}
	if c.Vault.PollIntervalSeconds <= 0 {
		c.Vault.PollIntervalSeconds = defaultVaultPollSeconds
	}
	return nil
}

func (c *Config) normalizeAccounts() error {
	c.Accounts.Backend = strings.ToLower(strings.TrimSpace(c.Accounts.Backend))
	if c.Accounts.Backend == "" {
		c.Accounts.Backend = AccountsSQLite
	}
	if c.Accounts.DSN == "" {
		if value, ok := os.LookupEnv("GAS_ACCOUNTS_DSN"); ok {
			c.Accounts.DSN = strings.TrimSpace(value)
		}
	}
	var err error
	if c.Accounts.SQLitePath, err = c.dataFile(c.Accounts.SQLitePath, "accounts.db"); err != nil {
		return fmt.Errorf("accounts.sqlite_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("GAS_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if strings.TrimSpace(c.Notifications.Subject) == "" {
		c.Notifications.Subject = defaultNotifySubject
	}
	c.Notifications.ResultURL = strings.TrimSpace(c.Notifications.ResultURL)
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	if c.API.Token == "" {
		if value, ok := os.LookupEnv("GAS_API_TOKEN"); ok {
			c.API.Token = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
