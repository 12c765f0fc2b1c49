package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "harnessforge.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// CLIFlags holds command-line overrides. Nil fields were not set and leave the
// loaded value untouched.
type CLIFlags struct {
	ConfigPath *string
	TasksFile  *string
	Workers    *int
	LogLevel   *string
	Port       *string
	CheckMode  *bool
}

// ParseFlags parses run flags. Only flags that were explicitly given are
// returned as non-nil.
func ParseFlags(args []string) (CLIFlags, error) {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to YAML config")
	fs.StringVar(configPath, "c", "", "path to YAML config (shorthand)")
	tasks := fs.String("tasks", "", "path to task manifest")
	workers := fs.Int("workers", 0, "parallel sessions")
	logLevel := fs.String("log-level", "", "debug, info, warn or error")
	port := fs.String("port", "", "status API port")
	checkMode := fs.Bool("check", false, "run the semantic check after clean fuzz runs")

	if err := fs.Parse(args); err != nil {
		return CLIFlags{}, err
	}

	var out CLIFlags
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "config", "c":
			out.ConfigPath = configPath
		case "tasks":
			out.TasksFile = tasks
		case "workers":
			out.Workers = workers
		case "log-level":
			out.LogLevel = logLevel
		case "port":
			out.Port = port
		case "check":
			out.CheckMode = checkMode
		}
	})
	return out, nil
}

// LoadWithCLI loads defaults < YAML < ENV < CLI and returns the resolved
// config path alongside the config.
func LoadWithCLI(flags CLIFlags) (*Config, string, error) {
	path := DefaultConfigFile
	if flags.ConfigPath != nil && *flags.ConfigPath != "" {
		path = *flags.ConfigPath
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, path); err != nil {
		return nil, "", fmt.Errorf("config yaml: %w", err)
	}
	loadEnv(&cfg)
	applyCLI(&cfg, flags)

	if err := validate(&cfg); err != nil {
		return nil, "", fmt.Errorf("config validate: %w", err)
	}
	return &cfg, path, nil
}

// applyCLI overlays explicitly set flags onto cfg.
func applyCLI(cfg *Config, flags CLIFlags) {
	if flags.TasksFile != nil {
		cfg.Tasks.File = *flags.TasksFile
	}
	if flags.Workers != nil {
		cfg.Session.Workers = *flags.Workers
	}
	if flags.LogLevel != nil {
		cfg.Logging.Level = *flags.LogLevel
	}
	if flags.Port != nil {
		cfg.Server.Port = *flags.Port
	}
	if flags.CheckMode != nil {
		cfg.Session.CheckMode = *flags.CheckMode
	}
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Logging.Level, "HARNESSFORGE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "HARNESSFORGE_LOG_SERVICE")
	setString(&cfg.Logging.Format, "HARNESSFORGE_LOG_FORMAT")
	setBool(&cfg.Logging.Async, "HARNESSFORGE_LOG_ASYNC")

	setString(&cfg.LiteLLM.URL, "LITELLM_URL")
	setString(&cfg.LiteLLM.MasterKey, "LITELLM_MASTER_KEY")
	setString(&cfg.LiteLLM.Model, "HARNESSFORGE_MODEL")
	setString(&cfg.LiteLLM.JudgeModel, "HARNESSFORGE_JUDGE_MODEL")
	setFloat64(&cfg.LiteLLM.Temperature, "HARNESSFORGE_TEMPERATURE")
	setInt(&cfg.LiteLLM.MaxTokens, "HARNESSFORGE_MAX_TOKENS")
	setDuration(&cfg.LiteLLM.Timeout, "HARNESSFORGE_LLM_TIMEOUT")
	setInt(&cfg.LiteLLM.MaxToolRounds, "HARNESSFORGE_MAX_TOOL_ROUNDS")
	setInt(&cfg.LiteLLM.HistoryTurns, "HARNESSFORGE_HISTORY_TURNS")

	setInt(&cfg.Breaker.MaxFailures, "HARNESSFORGE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "HARNESSFORGE_BREAKER_TIMEOUT")

	setInt(&cfg.Session.MaxFix, "HARNESSFORGE_MAX_FIX")
	setInt(&cfg.Session.MaxToolCall, "HARNESSFORGE_MAX_TOOL_CALL")
	setBool(&cfg.Session.CheckMode, "HARNESSFORGE_CHECK_MODE")
	setInt(&cfg.Session.Iterations, "HARNESSFORGE_ITERATIONS")
	setInt(&cfg.Session.Workers, "HARNESSFORGE_WORKERS")

	setDuration(&cfg.Compile.Timeout, "HARNESSFORGE_COMPILE_TIMEOUT")
	setBool(&cfg.Compile.ResetCursorOnFix, "HARNESSFORGE_RESET_CURSOR_EACH_FIX")

	setDuration(&cfg.Fuzz.Timeout, "HARNESSFORGE_FUZZ_TIMEOUT")
	setDuration(&cfg.Fuzz.PollInterval, "HARNESSFORGE_FUZZ_POLL_INTERVAL")
	setDuration(&cfg.Fuzz.KillGrace, "HARNESSFORGE_FUZZ_KILL_GRACE")
	setInt(&cfg.Fuzz.MaxLogBytes, "HARNESSFORGE_FUZZ_MAX_LOG_BYTES")
	setList(&cfg.Fuzz.ExtraArgs, "HARNESSFORGE_FUZZ_EXTRA_ARGS")

	// Sandbox
	setString(&cfg.Sandbox.Docker, "HARNESSFORGE_DOCKER")
	setString(&cfg.Sandbox.ProjectsDir, "HARNESSFORGE_PROJECTS_DIR")
	setString(&cfg.Sandbox.ImagePrefix, "HARNESSFORGE_IMAGE_PREFIX")
	setDuration(&cfg.Sandbox.BuildTimeout, "HARNESSFORGE_BUILD_TIMEOUT")
	setInt(&cfg.Sandbox.MaxBuilds, "HARNESSFORGE_MAX_BUILDS")
	setInt(&cfg.Sandbox.MemoryMB, "HARNESSFORGE_SANDBOX_MEMORY_MB")
	setInt(&cfg.Sandbox.CPUQuota, "HARNESSFORGE_SANDBOX_CPU_QUOTA")
	setInt(&cfg.Sandbox.PidsLimit, "HARNESSFORGE_SANDBOX_PIDS_LIMIT")
	setString(&cfg.Sandbox.NetworkMode, "HARNESSFORGE_SANDBOX_NETWORK")
	setDuration(&cfg.Sandbox.ReleaseTimeout, "HARNESSFORGE_SANDBOX_RELEASE_TIMEOUT")

	// LSP
	setBool(&cfg.LSP.Enabled, "HARNESSFORGE_LSP_ENABLED")
	setList(&cfg.LSP.Command, "HARNESSFORGE_LSP_COMMAND")
	setDuration(&cfg.LSP.StartTimeout, "HARNESSFORGE_LSP_START_TIMEOUT")
	setDuration(&cfg.LSP.RequestTimeout, "HARNESSFORGE_LSP_REQUEST_TIMEOUT")
	setDuration(&cfg.LSP.ShutdownTimeout, "HARNESSFORGE_LSP_SHUTDOWN_TIMEOUT")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "HARNESSFORGE_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "HARNESSFORGE_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "HARNESSFORGE_CACHE_L2_TTL")

	setString(&cfg.NATS.URL, "NATS_URL")

	setString(&cfg.State.Backend, "HARNESSFORGE_STATE_BACKEND")
	setString(&cfg.State.Dir, "HARNESSFORGE_STATE_DIR")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "HARNESSFORGE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "HARNESSFORGE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "HARNESSFORGE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "HARNESSFORGE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "HARNESSFORGE_PG_HEALTH_CHECK")

	setString(&cfg.Artifacts.Dir, "HARNESSFORGE_ARTIFACTS_DIR")
	setString(&cfg.Server.Port, "HARNESSFORGE_PORT")
	setString(&cfg.Server.CORSOrigin, "HARNESSFORGE_CORS_ORIGIN")
	setFloat64(&cfg.Server.RateLimit, "HARNESSFORGE_RATE_LIMIT")
	setInt(&cfg.Server.RateBurst, "HARNESSFORGE_RATE_BURST")
	setString(&cfg.MCP.Addr, "HARNESSFORGE_MCP_ADDR")
	setString(&cfg.MCP.APIKey, "HARNESSFORGE_MCP_API_KEY")
	setString(&cfg.Secrets.File, "HARNESSFORGE_SECRETS_FILE")

	setString(&cfg.OTel.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.OTel.Insecure, "HARNESSFORGE_OTEL_INSECURE")
	setString(&cfg.OTel.ServiceName, "OTEL_SERVICE_NAME")

	setString(&cfg.Tasks.File, "HARNESSFORGE_TASKS_FILE")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.LiteLLM.URL == "" {
		return errors.New("litellm.url is required")
	}
	if cfg.LiteLLM.Model == "" {
		return errors.New("litellm.model is required")
	}
	if cfg.Session.MaxFix < 0 {
		return errors.New("session.max_fix must be >= 0")
	}
	if cfg.Session.MaxToolCall < 0 {
		return errors.New("session.max_tool_call must be >= 0")
	}
	if cfg.Session.Workers < 1 {
		return errors.New("session.workers must be >= 1")
	}
	if cfg.Session.Iterations < 1 {
		return errors.New("session.iterations must be >= 1")
	}
	if cfg.Fuzz.Timeout <= 0 {
		return errors.New("fuzz.timeout must be > 0")
	}
	if cfg.Fuzz.PollInterval <= 0 {
		return errors.New("fuzz.poll_interval must be > 0")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Sandbox.MaxBuilds < 1 {
		return errors.New("sandbox.max_builds must be >= 1")
	}
	switch cfg.State.Backend {
	case "file":
		if cfg.State.Dir == "" {
			return errors.New("state.dir is required for the file backend")
		}
	case "postgres":
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required for the postgres backend")
		}
		if cfg.Postgres.MaxConns < 1 {
			return errors.New("postgres.max_conns must be >= 1")
		}
	default:
		return fmt.Errorf("state.backend %q is not one of file, postgres", cfg.State.Backend)
	}
	if cfg.Server.RateLimit > 0 && cfg.Server.RateBurst < 1 {
		return errors.New("server.rate_burst must be >= 1 when rate_limit is set")
	}
	if cfg.LSP.Enabled && len(cfg.LSP.Command) == 0 {
		return errors.New("lsp.command is required when lsp.enabled is set")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setList splits a comma-separated env value.
func setList(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
