package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fgeck/lndbackup/internal/config"
	"github.com/fgeck/lndbackup/internal/models"
	"github.com/fgeck/lndbackup/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [args...]",
	Short: "Execute the backup workflow",
	Long: `Execute the complete backup workflow:
1. Wake-on-LAN of the storage host (if configured)
2. Resolve the VMs to back up (a VM id or every VM in a region)
3. Per VM: snapshot, replicate to the destination region, download
4. Per VM: encrypt, checksum and copy offsite (if configured)
5. Per VM: remove older backups of the same VM
6. SSH shutdown of the storage host (if configured)
7. Send Telegram notification (if configured)

A failed VM does not stop the run. The exit code is non-zero only when the run
could not start.`,
	Args: validArgCount,
	RunE: runBackup,
}

func validArgCount(cmd *cobra.Command, args []string) error {
	switch len(args) {
	case 0, 4, 5:
		return nil
	default:
		return fmt.Errorf("accepts 0, 4 or 5 args, received %d", len(args))
	}
}

// loadConfig reads the optional config file, applies positional args and validates the result.
func loadConfig(args []string) (*models.BackupConfig, error) {
	parser := config.NewParser()

	var (
		cfg *models.BackupConfig
		err error
	)
	if configFile != "" {
		cfg, err = parser.LoadFile(configFile)
		if err != nil {
			log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
			return nil, err
		}
	} else {
		cfg, err = parser.LoadDefaults()
		if err != nil {
			return nil, err
		}
	}

	if err := config.ApplyArgs(cfg, args); err != nil {
		log.Error().Err(err).Msg("invalid arguments")
		return nil, err
	}

	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return nil, err
	}

	return cfg, nil
}

func runBackup(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	defer fmt.Fprintln(out, "done")

	if configFile == "" && len(args) == 0 {
		log.Error().Msg("either a config file or positional arguments are required")
		return cmd.Help()
	}

	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}

	log.Info().
		Str("source", cfg.Source).
		Str("destination_region", cfg.Destination.Region).
		Str("destination_dir", cfg.Destination.Directory).
		Msg("configuration loaded")

	// Set up context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runnerSvc := runner.New(log.Logger)
	if !jsonOutput && !quiet {
		runnerSvc.SetHooks(newConsole(out).hooks())
	}

	summary, err := runnerSvc.Run(ctx, *cfg)
	if err != nil {
		log.Error().Err(err).Str("step", summary.FailedStep).Msg("backup run aborted")
		return err
	}

	if summary.Failed() > 0 {
		log.Warn().
			Int("succeeded", summary.Succeeded()).
			Int("failed", summary.Failed()).
			Msg("backup run finished with errors")
		return nil
	}

	log.Info().Int("vms", len(summary.Results)).Msg("backup completed successfully")
	return nil
}
