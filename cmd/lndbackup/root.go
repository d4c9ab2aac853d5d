package main

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "dev"

	// Configuration flags.
	configFile string
	verbose    bool
	quiet      bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "lndbackup [api_id api_key source destination_region | source destination_region destination_dir api_id api_key]",
	Short: "Back up LunaNode VMs as downloaded disk images",
	Long: `lndbackup snapshots LunaNode VMs, copies the snapshots to a destination region,
downloads them as local disk images and removes older backups of the same VM:
  - source is a VM id or a region name (every VM in that region)
  - snapshots that end up killed are deleted and retried
  - old remote images and local files of each VM are pruned after a successful backup
  - optional age encryption, BLAKE3 checksums and an S3 offsite copy
  - optional Wake-on-LAN and SSH shutdown of the storage host, Telegram notification

Use as a one-shot command with an external scheduler (cron, systemd timer, etc.)`,
	Example: `  lndbackup <api_id> <api_key> 12345 toronto
  lndbackup toronto roubaix /mnt/backups <api_id> <api_key>
  lndbackup --config /etc/lndbackup.yaml`,
	Args: validArgCount,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	RunE:         runBackup,
	SilenceUsage: true,
	Version:      Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "enable quiet mode (errors only)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output logs in JSON format")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
}

func setupLogging() {
	// Set output format
	if jsonOutput {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
		output.FormatLevel = func(i interface{}) string {
			if s, ok := i.(string); ok {
				return strings.ToUpper(s)
			}
			return ""
		}
		log.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set log level
	switch {
	case quiet:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case verbose:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
