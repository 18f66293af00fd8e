package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const serviceName = "pipemock"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type clientFlags struct {
	server string
	token  string
}

func newRootCommand() *cobra.Command {
	flags := &clientFlags{}

	cmd := &cobra.Command{
		Use:           serviceName,
		Short:         "Deterministic mock of a CI pipeline-trigger API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&flags.server, "server", envOr("PIPEMOCK_URL", "http://localhost:8000"), "Base URL of a running mock")
	cmd.PersistentFlags().StringVar(&flags.token, "token", envOr("MOCK_TOKEN", "MOCK_SUPER_SECRET"), "Shared secret sent as PRIVATE-TOKEN")

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newMigrateCommand())
	cmd.AddCommand(newTriggerCommand(flags))
	cmd.AddCommand(newStatusCommand(flags))
	cmd.AddCommand(newPipelinesCommand(flags))
	cmd.AddCommand(newScenariosCommand(flags))
	cmd.AddCommand(newEventsCommand())
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
