package config

const (
	defaultConfigPath        = "~/.config/mdl/config.toml"
	projectConfigName        = "mdl.config.toml"
	defaultBaseURL           = "https://mds.production.momentos.life"
	defaultAPITimeoutSeconds = 60
	defaultOutputDir         = "."
	defaultMaxConcurrent     = 8
	defaultCredentialsFile   = "~/.config/mdl/mdl.toml"
	defaultStateDir          = "~/.local/share/mdl"
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
	defaultNtfyTimeout       = 10
	maxConcurrentCeiling     = 64
	envBaseURL               = "MDL_API_BASE_URL"
	envOutputDir             = "MDL_OUTPUT_DIR"
	envLogLevel              = "MDL_LOG_LEVEL"
	envCredentialsFile       = "MDL_CREDENTIALS_FILE"
	envNtfyTopic             = "MDL_NTFY_TOPIC"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		API: API{
			BaseURL:        defaultBaseURL,
			TimeoutSeconds: defaultAPITimeoutSeconds,
		},
		Download: Download{
			OutputDir:     defaultOutputDir,
			MaxConcurrent: defaultMaxConcurrent,
			AtomicWrites:  true,
		},
		Paths: Paths{
			CredentialsFile: defaultCredentialsFile,
			StateDir:        defaultStateDir,
		},
		History: History{
			Enabled: true,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNtfyTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
