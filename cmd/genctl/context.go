package main

import (
	"fmt"
	"io"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"genstudio/internal/infra"
)

type commandContext struct {
	envFile *string
	verbose *bool

	config *infra.Config
}

func newCommandContext(envFile *string, verbose *bool) *commandContext {
	return &commandContext{envFile: envFile, verbose: verbose}
}

func (c *commandContext) ensureConfig() (*infra.Config, error) {
	if c.config != nil {
		return c.config, nil
	}
	if path := *c.envFile; path != "" {
		if err := godotenv.Load(path); err != nil {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	} else {
		_ = godotenv.Load()
	}
	cfg, err := infra.LoadConfig()
	if err != nil {
		return nil, err
	}
	c.config = cfg
	return cfg, nil
}

// logger writes to stderr so stdout stays machine readable.
func (c *commandContext) logger(stderr io.Writer) zerolog.Logger {
	level := zerolog.WarnLevel
	if *c.verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().
		Timestamp().
		Logger()
}
