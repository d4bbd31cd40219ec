package config

const (
	defaultConfigPath    = "~/.config/grfpatch/config.toml"
	defaultGameDir       = "."
	defaultLogDir        = "~/.local/share/grfpatch/logs"
	defaultCacheFile     = "patch-cache.db"
	defaultTempSubdir    = "grfpatch"
	defaultArchive       = "data.grf"
	defaultArchivePrefix = "data"
	defaultMaxRetries    = 3
	defaultRetryDelayMS  = 1000
	defaultListTimeout   = 30
	defaultLogFormat     = "console"
	defaultLogLevel      = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			GameDir: defaultGameDir,
			LogDir:  defaultLogDir,
		},
		Client: Client{
			DefaultArchive: defaultArchive,
			ArchivePrefix:  defaultArchivePrefix,
		},
		Patching: Patching{
			MaxRetries:   defaultMaxRetries,
			RetryDelayMS: defaultRetryDelayMS,
			ListTimeout:  defaultListTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
