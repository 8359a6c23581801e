package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/yungbote/certsig-backend/internal/app"
)

const programName = "certsig"

var configFile string

func loadConfig() (app.Config, error) {
	return app.LoadConfig(configFile)
}

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the certificate issuance HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			if _, err := maxprocs.Set(maxprocs.Logger(func(format string, v ...any) {
				a.Log.Info(fmt.Sprintf(format, v...))
			})); err != nil {
				a.Log.Warn("maxprocs set failed", "error", err)
			}
			return a.Run(cmd.Context())
		},
	}
}

func registerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Inspect or seed the serial register",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print total, used and available serial counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			tool, err := openRegister(cmd.Context())
			if err != nil {
				return err
			}
			defer tool.Close()
			st, err := tool.Status(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{
				"backend":   tool.Table.Backend(),
				"total":     st.Total,
				"used":      st.Used,
				"available": st.Available,
			})
		},
	})

	var from string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Load a CSV serial register into the sql or redis backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			tool, err := openRegister(cmd.Context())
			if err != nil {
				return err
			}
			defer tool.Close()
			res, err := tool.Import(cmd.Context(), from)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	importCmd.Flags().StringVar(&from, "from", "", "path to the CSV register to import")
	_ = importCmd.MarkFlagRequired("from")
	cmd.AddCommand(importCmd)

	return cmd
}

func openRegister(ctx context.Context) (*app.RegisterTool, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.NewRegisterTool(ctx, cfg)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Certificate issuance service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file")
	rootCmd.AddCommand(serveCommand(), registerCommand())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", programName, err)
		stop()
		os.Exit(1)
	}
}
