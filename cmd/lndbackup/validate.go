package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate [args...]",
	Short: "Validate configuration and arguments",
	Long:  `Validate the configuration file and positional arguments without executing any backup operations.`,
	Args:  validArgCount,
	RunE:  validateConfig,
}

func validateConfig(cmd *cobra.Command, args []string) error {
	if configFile == "" && len(args) == 0 {
		return fmt.Errorf("either a config file or positional arguments are required")
	}

	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	// Print configuration summary
	fmt.Fprintln(out, "Configuration is valid!")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Summary:")
	fmt.Fprintf(out, "  Source: %s\n", cfg.Source)
	fmt.Fprintf(out, "  Destination region: %s\n", cfg.Destination.Region)
	fmt.Fprintf(out, "  Destination directory: %s\n", cfg.Destination.Directory)
	fmt.Fprintf(out, "  Name prefix: %s <vm id>\n", cfg.Naming.Tool)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Retry Policy:")
	fmt.Fprintf(out, "  Max retries: %d\n", cfg.Retry.MaxRetries)
	fmt.Fprintf(out, "  Poll interval: %s\n", cfg.Retry.PollInterval)
	fmt.Fprintf(out, "  Status timeout: %s\n", cfg.Retry.StatusTimeout)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Optional Features:")
	fmt.Fprintf(out, "  Lock: %v\n", cfg.Lock.Enabled)
	fmt.Fprintf(out, "  Checksum: %v\n", cfg.Checksum.Enabled)
	fmt.Fprintf(out, "  Encryption: %v\n", cfg.Encryption != nil)
	fmt.Fprintf(out, "  Offsite: %v\n", cfg.Offsite != nil)
	fmt.Fprintf(out, "  Wake-on-LAN: %v\n", cfg.WOL != nil)
	fmt.Fprintf(out, "  SSH Shutdown: %v\n", cfg.SSHShutdown != nil)
	fmt.Fprintf(out, "  Telegram: %v\n", cfg.Telegram != nil)

	if cfg.Offsite != nil {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Offsite Configuration:")
		fmt.Fprintf(out, "  Bucket: %s\n", cfg.Offsite.Bucket)
		fmt.Fprintf(out, "  Region: %s\n", cfg.Offsite.Region)
		if cfg.Offsite.Prefix != "" {
			fmt.Fprintf(out, "  Prefix: %s\n", cfg.Offsite.Prefix)
		}
		if cfg.Offsite.Endpoint != "" {
			fmt.Fprintf(out, "  Endpoint: %s\n", cfg.Offsite.Endpoint)
		}
		fmt.Fprintf(out, "  Storage class: %s\n", cfg.Offsite.StorageClass)
	}

	if cfg.WOL != nil {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "WOL Configuration:")
		fmt.Fprintf(out, "  MAC Address: %s\n", cfg.WOL.MACAddress)
		fmt.Fprintf(out, "  Broadcast IP: %s\n", cfg.WOL.BroadcastIP)
		if cfg.WOL.ReadyPath != "" {
			fmt.Fprintf(out, "  Ready path: %s\n", cfg.WOL.ReadyPath)
		}
	}

	if cfg.SSHShutdown != nil {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "SSH Shutdown Configuration:")
		fmt.Fprintf(out, "  Host: %s\n", cfg.SSHShutdown.Host)
		fmt.Fprintf(out, "  Port: %d\n", cfg.SSHShutdown.Port)
		fmt.Fprintf(out, "  Username: %s\n", cfg.SSHShutdown.Username)
		fmt.Fprintf(out, "  Shutdown Delay: %d minute(s)\n", cfg.SSHShutdown.ShutdownDelay)
		fmt.Fprintf(out, "  Only on success: %v\n", cfg.SSHShutdown.OnlyOnSuccess)
	}

	if cfg.Telegram != nil {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Telegram Configuration:")
		fmt.Fprintf(out, "  Chat ID: %s\n", cfg.Telegram.ChatID)
		fmt.Fprintf(out, "  Bot Token: (configured)\n")
	}

	return nil
}
