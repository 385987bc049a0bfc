package config

import (
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
)

// envVarPattern matches ${VAR} or ${VAR:default}
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// SubstituteEnvVars replaces ${VAR} or ${VAR:default} with environment variable values
func SubstituteEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultValue := ""
		if len(parts) > 2 {
			defaultValue = parts[2]
		}

		value := os.Getenv(varName)
		if value == "" {
			return defaultValue
		}
		return value
	})
}

// SubstituteEnvVarsInConfig recursively substitutes environment variables in config
func SubstituteEnvVarsInConfig(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.Server != nil {
		cfg.Server.Name = SubstituteEnvVars(cfg.Server.Name)
		cfg.Server.ListenAddr = SubstituteEnvVars(cfg.Server.ListenAddr)
	}

	if cfg.Federation != nil {
		cfg.Federation.ServerID = SubstituteEnvVars(cfg.Federation.ServerID)
		cfg.Federation.ListenAddr = SubstituteEnvVars(cfg.Federation.ListenAddr)
		for i := range cfg.Federation.Peers {
			cfg.Federation.Peers[i].PeerID = SubstituteEnvVars(cfg.Federation.Peers[i].PeerID)
			cfg.Federation.Peers[i].Addr = SubstituteEnvVars(cfg.Federation.Peers[i].Addr)
			cfg.Federation.Peers[i].PublicKey = SubstituteEnvVars(cfg.Federation.Peers[i].PublicKey)
		}
	}

	if cfg.Archive != nil {
		cfg.Archive.Driver = SubstituteEnvVars(cfg.Archive.Driver)
		cfg.Archive.DSN = SubstituteEnvVars(cfg.Archive.DSN)
	}

	if cfg.Logging != nil {
		cfg.Logging.Level = SubstituteEnvVars(cfg.Logging.Level)
		cfg.Logging.Format = SubstituteEnvVars(cfg.Logging.Format)
		cfg.Logging.Output = SubstituteEnvVars(cfg.Logging.Output)
	}

	if cfg.Health != nil {
		cfg.Health.Addr = SubstituteEnvVars(cfg.Health.Addr)
		cfg.Health.Path = SubstituteEnvVars(cfg.Health.Path)
	}

	if cfg.Metrics != nil {
		cfg.Metrics.Addr = SubstituteEnvVars(cfg.Metrics.Addr)
		cfg.Metrics.Path = SubstituteEnvVars(cfg.Metrics.Path)
	}
}

// LoadDotEnv loads a .env file (if present) into the process environment,
// ahead of SubstituteEnvVarsInConfig reading os.Getenv. Missing files are
// not an error; local dev convenience only.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

// GetEnvironment returns the current environment from ICD_ENV or defaults to development
func GetEnvironment() string {
	env := os.Getenv("ICD_ENV")
	if env == "" {
		env = os.Getenv("ENVIRONMENT")
	}
	if env == "" {
		env = "development"
	}
	return strings.ToLower(env)
}

// IsProduction returns true if running in production environment
func IsProduction() bool {
	return GetEnvironment() == "production"
}

// IsDevelopment returns true if running in development or local environment
func IsDevelopment() bool {
	env := GetEnvironment()
	return env == "development" || env == "local"
}
