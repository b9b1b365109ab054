package core

// LogConfig configures handling of application log events, mirroring the
// teacher's mainboilerplate.LogConfig shape.
type LogConfig struct {
	Level  string `long:"level" env:"LEVEL" default:"info" choice:"trace" choice:"debug" choice:"info" choice:"warn" choice:"error" choice:"fatal" description:"Logging level"`
	Format string `long:"format" env:"FORMAT" default:"text" choice:"json" choice:"text" choice:"color" description:"Logging output format"`
}

// StoreConfig is the parsed configuration of a single store instance,
// bound from CLI flags / environment via go-flags the way the teacher's
// mainboilerplate.Config is.
type StoreConfig struct {
	Log LogConfig `group:"Logging" namespace:"log" env-namespace:"LOG"`

	BaseDir string `long:"base-dir" env:"BASE_DIR" required:"true" description:"Root directory of the store (contains fsid, current/, snap_N, ...)"`

	JournalMode string `long:"journal-mode" env:"JOURNAL_MODE" default:"writeahead" choice:"writeahead" choice:"parallel" choice:"trailing" description:"Durability mode of the commit pipeline"`

	MinSyncInterval string `long:"min-sync-interval" env:"MIN_SYNC_INTERVAL" default:"1s" description:"Minimum interval between commit cycles"`
	MaxSyncInterval string `long:"max-sync-interval" env:"MAX_SYNC_INTERVAL" default:"5s" description:"Maximum interval between commit cycles"`
	CommitTimeout   string `long:"commit-timeout" env:"COMMIT_TIMEOUT" default:"30s" description:"Fatal watchdog timeout for a single commit cycle"`

	ApplyWorkers int `long:"apply-workers" env:"APPLY_WORKERS" default:"4" description:"Width of the apply worker pool"`

	MaxQueuedOps   int   `long:"max-queued-ops" env:"MAX_QUEUED_OPS" default:"5000" description:"Admission throttle: maximum queued operations"`
	MaxQueuedBytes int64 `long:"max-queued-bytes" env:"MAX_QUEUED_BYTES" default:"268435456" description:"Admission throttle: maximum queued bytes"`

	PreferOmap        bool  `long:"prefer-omap" env:"PREFER_OMAP" description:"Route new attribute values to the key/value store unconditionally"`
	InlineAttrMax     int64 `long:"inline-attr-max" env:"INLINE_ATTR_MAX" default:"4096" description:"Attribute values above this size spill to the key/value store when PreferOmap is set"`
	InlineAttrCountMax int  `long:"inline-attr-count-max" env:"INLINE_ATTR_COUNT_MAX" default:"64" description:"Per-object inline attribute count above which new values spill to the key/value store when PreferOmap is set"`

	RemoteStoreURL string `long:"remote-store-url" env:"REMOTE_STORE_URL" description:"Optional cold-storage URL (file://, s3://, gs://, azure://) for clustersnap upload"`

	AllowStaleSnapshot bool `long:"allow-stale-snapshot" env:"ALLOW_STALE_SNAPSHOT" description:"Do not write the current/nosnap sentinel when mounting without a snapshot rollback. Mount never reads the sentinel: it rolls back to the newest snapshot whenever snapshots are supported and present, with or without this flag"`
}
