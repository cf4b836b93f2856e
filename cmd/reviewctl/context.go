package main

import (
	"errors"
	"flag"
	"fmt"

	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	rc "github.com/lynN18he/reviewops/internal/cfg"
)

const envPrefix = "REVIEWOPS_"

type commandContext struct {
	fs     *flag.FlagSet
	appCfg rc.Config
	logCfg log.Config

	logger log.Logger
	sync   func() error
}

func newCommandContext() *commandContext {
	c := &commandContext{fs: flag.NewFlagSet(appName, flag.ContinueOnError)}
	c.appCfg.RegisterFlags(c.fs)
	c.logCfg.RegisterFlags(c.fs)
	return c
}

// load applies environment defaults and builds the logger. Pipeline
// settings are validated per command, since history needs no oracle.
func (c *commandContext) load(cmd *cobra.Command) error {
	markChanged(cmd.Flags(), c.fs)
	cfg.FillFromEnv(c.fs, envPrefix, func(format string, args ...any) {
		fmt.Fprintf(cmd.ErrOrStderr(), format+"\n", args...)
	})

	if err := c.logCfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	lg, err := log.New(c.logCfg.ToOptions(appName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	c.logger = lg.With("component", "cli")
	c.sync = lg.Sync
	return nil
}

func (c *commandContext) close() {
	if c.sync != nil {
		_ = c.sync()
	}
}

func (c *commandContext) validatePipeline() error {
	if err := c.appCfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

func (c *commandContext) validateIngest() error {
	var errs []error
	if c.appCfg.WeaviateURL == "" {
		errs = append(errs, errors.New("weaviate-url is required for ingestion"))
	}
	if c.appCfg.OpenAIAPIKey == "" {
		errs = append(errs, errors.New("openai-api-key is required for embeddings"))
	}
	if c.appCfg.EmbeddingModel == "" {
		errs = append(errs, errors.New("embedding-model is required for embeddings"))
	}
	return errors.Join(errs...)
}

// markChanged copies flags given on the command line into the Go FlagSet so
// FillFromEnv sees them as set and leaves them alone.
func markChanged(flags *pflag.FlagSet, fs *flag.FlagSet) {
	flags.Visit(func(f *pflag.Flag) {
		if fs.Lookup(f.Name) != nil {
			_ = fs.Set(f.Name, f.Value.String())
		}
	})
}
