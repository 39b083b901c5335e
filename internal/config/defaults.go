package config

// Backend names accepted by the config.
const (
	BrokerSQLite          = "sqlite"
	BrokerRedis           = "redis"
	ObjectStoreMinio      = "minio"
	ObjectStoreFilesystem = "filesystem"
	AccountsSQLite        = "sqlite"
	AccountsPostgres      = "postgres"
)

const (
	defaultDataDir                  = "~/.local/share/gas"
	defaultScratchDir               = "~/.local/share/gas/scratch"
	defaultLogDir                   = "~/.local/share/gas/logs"
	defaultLogFormat                = "console"
	defaultLogLevel                 = "info"
	defaultBrokerWaitSeconds        = 20
	defaultBrokerVisibilitySeconds  = 60
	defaultBrokerMaxReceiveCount    = 5
	defaultUploadsQueue             = "gas-uploads"
	defaultRequestsQueue            = "gas-job-requests"
	defaultResultsQueue             = "gas-job-results"
	defaultArchiveQueue             = "gas-job-archive"
	defaultRestoreQueue             = "gas-job-restore"
	defaultThawQueue                = "gas-job-thaw"
	defaultInputsBucket             = "gas-inputs"
	defaultResultsBucket            = "gas-results"
	defaultResultsPrefix            = "gas"
	defaultPresignExpirySeconds     = 3600
	defaultVaultName                = "gas-vault"
	defaultVaultBucket              = "gas-vault"
	defaultExpeditedSeconds         = 5 * 60
	defaultStandardSeconds          = 5 * 60 * 60
	defaultBulkSeconds              = 12 * 60 * 60
	defaultExpeditedCapacity        = 3
	defaultVaultPollSeconds         = 10
	defaultNotifyRequestTimeout     = 10
	defaultNotifySender             = "gas@localhost"
	defaultNotifySubject            = "Results available for job %s"
	defaultAnnotatorBinary          = "gas-annotate"
	defaultMaxConcurrentJobs        = 2
	defaultHeartbeatIntervalSeconds = 15
	defaultHeartbeatTimeoutSeconds  = 120
	defaultReaperIntervalSeconds    = 60
	defaultMinFreeSpaceMB           = 512
	defaultArchiveGraceSeconds      = 300
	defaultRestoreConcurrency       = 4
	defaultRestoreRequestsPerSecond = 5
	defaultRetrievalTimeoutSeconds  = 24 * 60 * 60
	defaultAPIBind                  = "127.0.0.1:7490"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:    defaultDataDir,
			ScratchDir: defaultScratchDir,
			LogDir:     defaultLogDir,
		},
		Broker: Broker{
			Backend:                  BrokerSQLite,
			WaitTimeSeconds:          defaultBrokerWaitSeconds,
			VisibilityTimeoutSeconds: defaultBrokerVisibilitySeconds,
			MaxReceiveCount:          defaultBrokerMaxReceiveCount,
		},
		Queues: Queues{
			Uploads:  defaultUploadsQueue,
			Requests: defaultRequestsQueue,
			Results:  defaultResultsQueue,
			Archive:  defaultArchiveQueue,
			Restore:  defaultRestoreQueue,
			Thaw:     defaultThawQueue,
		},
		ObjectStore: ObjectStore{
			Backend:              ObjectStoreFilesystem,
			InputsBucket:         defaultInputsBucket,
			ResultsBucket:        defaultResultsBucket,
			ResultsPrefix:        defaultResultsPrefix,
			PresignExpirySeconds: defaultPresignExpirySeconds,
		},
		Vault: Vault{
			Name:                defaultVaultName,
			Bucket:              defaultVaultBucket,
			ExpeditedSeconds:    defaultExpeditedSeconds,
			StandardSeconds:     defaultStandardSeconds,
			BulkSeconds:         defaultBulkSeconds,
			ExpeditedCapacity:   defaultExpeditedCapacity,
			PollIntervalSeconds: defaultVaultPollSeconds,
		},
		Accounts: Accounts{
			Backend: AccountsSQLite,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Sender:         defaultNotifySender,
			Subject:        defaultNotifySubject,
		},
		Processing: Processing{
			AnnotatorBinary:          defaultAnnotatorBinary,
			MaxConcurrentJobs:        defaultMaxConcurrentJobs,
			HeartbeatIntervalSeconds: defaultHeartbeatIntervalSeconds,
			HeartbeatTimeoutSeconds:  defaultHeartbeatTimeoutSeconds,
			ReaperIntervalSeconds:    defaultReaperIntervalSeconds,
			MinFreeSpaceMB:           defaultMinFreeSpaceMB,
		},
		Archive: Archive{
			GraceSeconds: defaultArchiveGraceSeconds,
		},
		Restore: Restore{
			Concurrency:             defaultRestoreConcurrency,
			RequestsPerSecond:       defaultRestoreRequestsPerSecond,
			RetrievalTimeoutSeconds: defaultRetrievalTimeoutSeconds,
		},
		API: API{
			Bind: defaultAPIBind,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
