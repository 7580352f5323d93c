// matching-service
//
// Matches claimants to job postings and tracks advisor review of the matches.
//   - serve      REST + gRPC API, periodic reconciliation, posting re-index
//   - reconcile  one-off reconciliation of a claimant (or all of them)
//   - prune      delete untouched matches below a score
//
// Publishes EVENT_MATCH_STATUS_CHANGED to Redis for Gateway SSE forward and
// listens on EVENT_JOB_POSTING_UPSERTED for freshly scraped postings.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"jobmate/matching-service/internal/config"
	"jobmate/matching-service/internal/logger"
)

const (
	app     = "matching-service"
	version = "1.0.0"
)

var (
	// Used for flags.
	cfgFile string

	v   = config.New()
	cfg *config.Config
	log *zap.Logger

	rootCmd = &cobra.Command{
		Use:               app,
		Short:             "matching-service scores claimants against job postings and tracks match review",
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a YAML config file (optional, environment variables win)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	_ = v.BindPFlag("log.debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = v.BindPFlag("log.json", rootCmd.PersistentFlags().Lookup("json"))
}

// setup loads .env and the config, then builds the logger. Commands that
// need no config skip it.
func setup(cmd *cobra.Command, _ []string) error {
	if cmd.Annotations["config"] == "none" {
		return nil
	}
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	c, err := config.Load(v, cfgFile)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	l, err := logger.New(c.Log.JSON, c.Log.Debug)
	if err != nil {
		return fmt.Errorf("creating a logger: %w", err)
	}
	cfg, log = c, l.With(zap.String("service", app))
	return nil
}

func main() {
	err := rootCmd.Execute()
	if log != nil {
		_ = log.Sync()
	}
	if err != nil {
		os.Exit(1)
	}
}
