package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateBroker(); err != nil {
		return err
	}
	if err := c.validateQueues(); err != nil {
		return err
	}
	if err := c.validateObjectStore(); err != nil {
		return err
	}
	if err := c.validateVault(); err != nil {
		return err
	}
	if err := c.validateAccounts(); err != nil {
		return err
	}
	if err := c.validateProcessing(); err != nil {
		return err
	}
	if err := c.validateRestore(); err != nil {
		return err
	}
	if c.Archive.GraceSeconds < 0 {
		return errors.New("archive.grace_seconds must not be negative")
	}
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateBroker() error {
	switch c.Broker.Backend {
	case BrokerSQLite:
	case BrokerRedis:
		if c.Broker.RedisAddr == "" {
			return errors.New("broker.redis_addr must be set when broker.backend is redis")
		}
	default:
		return fmt.Errorf("broker.backend: unsupported value %q (want sqlite or redis)", c.Broker.Backend)
	}
	if c.Broker.VisibilityTimeoutSeconds <= 0 {
		return errors.New("broker.visibility_timeout_seconds must be positive")
	}
	if c.Broker.MaxReceiveCount <= 0 {
		return errors.New("broker.max_receive_count must be positive")
	}
	return nil
}

func (c *Config) validateQueues() error {
	names := []struct {
		key   string
		value string
	}{
		{"queues.uploads", c.Queues.Uploads},
		{"queues.requests", c.Queues.Requests},
		{"queues.results", c.Queues.Results},
		{"queues.archive", c.Queues.Archive},
		{"queues.restore", c.Queues.Restore},
		{"queues.thaw", c.Queues.Thaw},
	}
	seen := make(map[string]string, len(names))
	for _, entry := range names {
		if entry.value == "" {
			return fmt.Errorf("%s must be set", entry.key)
		}
		if other, ok := seen[entry.value]; ok {
			return fmt.Errorf("%s and %s must name different queues", other, entry.key)
		}
		seen[entry.value] = entry.key
	}
	return nil
}

func (c *Config) validateObjectStore() error {
	switch c.ObjectStore.Backend {
	case ObjectStoreFilesystem:
	case ObjectStoreMinio:
		if c.ObjectStore.Endpoint == "" {
			return errors.New("object_store.endpoint must be set when object_store.backend is minio")
		}
		if c.ObjectStore.AccessKey == "" || c.ObjectStore.SecretKey == "" {
			return errors.New("object_store.access_key and object_store.secret_key must be set (or GAS_OBJECT_STORE_ACCESS_KEY/GAS_OBJECT_STORE_SECRET_KEY)")
		}
	default:
		return fmt.Errorf("object_store.backend: unsupported value %q (want minio or filesystem)", c.ObjectStore.Backend)
	}
	if strings.TrimSpace(c.ObjectStore.InputsBucket) == "" {
		return errors.New("object_store.inputs_bucket must be set")
	}
	if strings.TrimSpace(c.ObjectStore.ResultsBucket) == "" {
		return errors.New("object_store.results_bucket must be set")
	}
	if c.ObjectStore.ResultsPrefix == "" {
		return errors.New("object_store.results_prefix must be set")
	}
	return nil
}

func (c *Config) validateVault() error {
	if err := ensureNonNegativeMap(map[string]int{
		"vault.expedited_seconds":  c.Vault.ExpeditedSeconds,
		"vault.standard_seconds":   c.Vault.StandardSeconds,
		"vault.bulk_seconds":       c.Vault.BulkSeconds,
		"vault.expedited_capacity": c.Vault.ExpeditedCapacity,
		"vault.standard_capacity":  c.Vault.StandardCapacity,
	}); err != nil {
		return err
	}
	if c.Vault.Bucket == c.ObjectStore.ResultsBucket || c.Vault.Bucket == c.ObjectStore.InputsBucket {
		return errors.New("vault.bucket must differ from the hot storage buckets")
	}
	return nil
}

func (c *Config) validateAccounts() error {
	switch c.Accounts.Backend {
	case AccountsSQLite:
	case AccountsPostgres:
		if c.Accounts.DSN == "" {
			return errors.New("accounts.dsn must be set when accounts.backend is postgres (or GAS_ACCOUNTS_DSN)")
		}
	default:
		return fmt.Errorf("accounts.backend: unsupported value %q (want sqlite or postgres)", c.Accounts.Backend)
	}
	return nil
}

func (c *Config) validateProcessing() error {
	if strings.TrimSpace(c.Processing.AnnotatorBinary) == "" {
		return errors.New("processing.annotator_binary must be set")
	}
	if err := ensurePositiveMap(map[string]int{
		"processing.max_concurrent_jobs":        c.Processing.MaxConcurrentJobs,
		"processing.heartbeat_interval_seconds": c.Processing.HeartbeatIntervalSeconds,
		"processing.heartbeat_timeout_seconds":  c.Processing.HeartbeatTimeoutSeconds,
		"processing.reaper_interval_seconds":    c.Processing.ReaperIntervalSeconds,
	}); err != nil {
		return err
	}
	if c.Processing.HeartbeatTimeoutSeconds <= c.Processing.HeartbeatIntervalSeconds {
		return errors.New("processing.heartbeat_timeout_seconds must be greater than processing.heartbeat_interval_seconds")
	}
	if c.Processing.MinFreeSpaceMB < 0 {
		return errors.New("processing.min_free_space_mb must not be negative")
	}
	return nil
}

func (c *Config) validateRestore() error {
	if c.Restore.Concurrency <= 0 {
		return errors.New("restore.concurrency must be positive")
	}
	if c.Restore.RequestsPerSecond <= 0 {
		return errors.New("restore.requests_per_second must be positive")
	}
	if c.Restore.RetrievalTimeoutSeconds <= max(c.Vault.ExpeditedSeconds, c.Vault.StandardSeconds) {
		return errors.New("restore.retrieval_timeout_seconds must exceed the slowest retrieval tier")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}

func ensureNonNegativeMap(values map[string]int) error {
	for key, value := range values {
		if value < 0 {
			return fmt.Errorf("%s must not be negative", key)
		}
	}
	return nil
}
