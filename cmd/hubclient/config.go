package main

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/gamershub/hubclient/internal/logger"
)

const (
	defaultAPIURL       = "http://localhost:5000/api"
	defaultDataDir      = ".gamershub"
	defaultLoggingLevel = logger.LevelInfo
	defaultEnvironment  = logger.EnvProduction
)

type Config struct {
	// Default logging level
	LogLevel string

	// Base URL of the GamersHub backend API
	APIURL string

	// Directory for the durable session database
	DataDir string

	// Credentials for the optional login-on-start. Both must be set for a
	// login to happen; otherwise the client only restores a persisted session
	Email    string
	Password string

	// Whether the session should survive process restarts
	RememberMe bool

	// Environment
	Environment string
}

func NewConfig() *Config {
	return &Config{
		LogLevel:    defaultLoggingLevel,
		APIURL:      defaultAPIURL,
		DataDir:     defaultDataDir,
		Environment: defaultEnvironment,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		c.LoadEnv(func(key string) string {
			return envMap[key]
		})
		return nil
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) {
		return func(value string) {
			if value != "" {
				*o = value
			}
		}
	}
	setBool := func(o *bool) func(value string) {
		return func(value string) {
			if value != "" {
				*o = value == "1" || value == "true"
			}
		}
	}

	envMap := map[string]func(string){
		"API_URL":     setString(&c.APIURL),
		"DATA_DIR":    setString(&c.DataDir),
		"LOG_LEVEL":   setString(&c.LogLevel),
		"ENVIRONMENT": setString(&c.Environment),
		"EMAIL":       setString(&c.Email),
		"PASSWORD":    setString(&c.Password),
		"REMEMBER_ME": setBool(&c.RememberMe),
	}

	for key, parseFn := range envMap {
		parseFn(getenv(key))
	}
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("hubclient", pflag.ContinueOnError)

	fs.StringVarP(&c.APIURL, "api-url", "a", c.APIURL, "GamersHub API base URL")
	fs.StringVarP(&c.DataDir, "data-dir", "d", c.DataDir, "Directory for the session database")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Email, "email", "u", c.Email, "Email to log in with")
	fs.StringVarP(&c.Password, "password", "p", c.Password, "Password to log in with")
	fs.BoolVarP(&c.RememberMe, "remember-me", "r", c.RememberMe, "Keep the session across restarts")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")

	return fs.Parse(args)
}
