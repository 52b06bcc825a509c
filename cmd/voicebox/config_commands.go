package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"voicebox/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newConfigInitCommand(ctx))
	cmd.AddCommand(newConfigPathCommand(ctx))
	cmd.AddCommand(newConfigShowCommand(ctx))
	return cmd
}

func newConfigInitCommand(ctx *commandContext) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a sample configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := strings.TrimSpace(*ctx.configFlag)
			if path == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return err
				}
				path = defaultPath
			}

			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
				}
			}

			if err := config.WriteSample(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote sample configuration to %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

func newConfigPathCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the resolved configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := strings.TrimSpace(*ctx.configFlag)
			resolved, exists, err := resolveForDisplay(path)
			if err != nil {
				return err
			}
			if exists {
				fmt.Fprintln(cmd.OutOrStdout(), resolved)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s (not present, defaults in effect)\n", resolved)
			}
			return nil
		},
	}
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "[paths]\n")
			fmt.Fprintf(out, "audio_dir = %q\n", cfg.Paths.AudioDir)
			fmt.Fprintf(out, "log_dir = %q\n", cfg.Paths.LogDir)
			fmt.Fprintf(out, "api_bind = %q\n", cfg.Paths.APIBind)
			fmt.Fprintf(out, "\n[mail]\n")
			fmt.Fprintf(out, "server = %q\n", cfg.Mail.Server)
			fmt.Fprintf(out, "port = %d\n", cfg.Mail.Port)
			fmt.Fprintf(out, "username = %q\n", cfg.Mail.Username)
			fmt.Fprintf(out, "tls_enabled = %v\n", cfg.Mail.TLSEnabled)
			fmt.Fprintf(out, "poll_interval_seconds = %d\n", cfg.Mail.PollIntervalSeconds)
			fmt.Fprintf(out, "\n[transcription]\n")
			fmt.Fprintf(out, "primary_model = %q\n", cfg.Transcription.PrimaryModel)
			fmt.Fprintf(out, "fallback_model = %q\n", cfg.Transcription.FallbackModel)
			fmt.Fprintf(out, "language = %q\n", cfg.Transcription.Language)
			fmt.Fprintf(out, "work_dir = %q\n", cfg.Transcription.WorkDir)
			fmt.Fprintf(out, "\n[extraction]\n")
			fmt.Fprintf(out, "backend = %q\n", cfg.Extraction.Backend)
			fmt.Fprintf(out, "model = %q\n", cfg.Extraction.Model)
			fmt.Fprintf(out, "base_url = %q\n", cfg.Extraction.BaseURL)
			fmt.Fprintf(out, "timeout_seconds = %d\n", cfg.Extraction.TimeoutSeconds)
			fmt.Fprintf(out, "\n[logging]\n")
			fmt.Fprintf(out, "format = %q\n", cfg.Logging.Format)
			fmt.Fprintf(out, "level = %q\n", cfg.Logging.Level)
			return nil
		},
	}
}

func resolveForDisplay(path string) (string, bool, error) {
	_, resolved, exists, err := config.Load(path)
	if err != nil {
		return "", false, err
	}
	return resolved, exists, nil
}
