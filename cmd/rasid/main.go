package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rasidhq/recharge/internal/app"
	"github.com/rasidhq/recharge/internal/config"
	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    *cobra.Command
)

func init() {
	rootCmd = &cobra.Command{
		Use:           "rasid",
		Short:         "Rasid - prepaid recharge card ledger and approval service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config.yaml (default: RASID_CONFIG or ./config.yaml)")

	rootCmd.AddCommand(serveCmd(), migrateCmd(), tokenCmd(), reportCmd())
}

func appConfig() config.AppConfig {
	return config.AppConfig{ConfigPath: configPath}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the operator API and the monthly report scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.RunServer(ctx, appConfig())
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := app.Migrate(cmd.Context(), appConfig()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	var userID uint64
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an operator bearer token for a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if userID == 0 {
				return fmt.Errorf("--user-id is required")
			}
			token, err := app.IssueToken(cmd.Context(), appConfig(), userID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&userID, "user-id", 0, "ID of the user the token acts as")
	return cmd
}

func reportCmd() *cobra.Command {
	var month string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Build the monthly consumption report now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sum, err := app.RunReport(cmd.Context(), appConfig(), month)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if sum == nil {
				fmt.Fprintln(out, "nothing consumed in period, no report written")
				return nil
			}
			fmt.Fprintf(out, "cards=%d amount=%d tariff=%d\n%s\n%s\n",
				sum.CardCount, sum.TotalAmount, sum.TotalTariff, sum.SummaryPath, sum.UsersPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&month, "month", "", "Month to report on as YYYY-MM (default: previous month)")
	return cmd
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
