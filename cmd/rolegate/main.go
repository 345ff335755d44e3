// Package main is the entry point for the rolegate CLI.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/flemzord/rolegate/internal/core"
	"github.com/flemzord/rolegate/pkg/app"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// A missing .env is normal.
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "rolegate",
		Short:         "Bridge chat groups to AI providers through named roles",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "Path to configuration file")
	root.PersistentFlags().String("data-dir", "", "Override the data directory")
	root.PersistentFlags().String("env-file", "", "Load environment variables from this file")
	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if path, _ := cmd.Flags().GetString("env-file"); path != "" {
			return godotenv.Overload(path)
		}
		return nil
	}
	root.AddCommand(versionCmd(), startCmd(), configCmd(), providersCmd(), fieldsCmd(), serviceCmd())
	return root
}

func runParams(cmd *cobra.Command) app.RunParams {
	cfgPath, _ := cmd.Flags().GetString("config")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	return app.RunParams{ConfigPath: cfgPath, DataDir: dataDir, Version: version}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and compiled modules",
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "rolegate %s (commit: %s, built: %s)\n", version, commit, date)
	fmt.Fprintln(w, "\nCompiled modules:")
	for _, mod := range core.GetModules() {
		fmt.Fprintf(w, "  %s\n", mod.ID)
	}
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start rolegate with all configured modules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return app.Run(ctx, runParams(cmd))
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check [path]",
		Short: "Validate configuration and provision every module",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := runParams(cmd)
			if len(args) == 1 {
				params.ConfigPath = args[0]
			}
			loaded, err := app.Load(params)
			if err != nil {
				return err
			}
			defer loaded.App.Unload()

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Configuration OK (%d modules)\n", len(loaded.Modules))
			for _, id := range loaded.Modules {
				fmt.Fprintf(w, "  %s\n", id)
			}
			return nil
		},
	})
	return cmd
}

// withLoaded provisions the configured modules for the duration of fn.
func withLoaded(cmd *cobra.Command, fn func(ctx context.Context, loaded *app.Loaded) error) error {
	loaded, err := app.Load(runParams(cmd))
	if err != nil {
		return err
	}
	defer loaded.App.Unload()
	return fn(cmd.Context(), loaded)
}
