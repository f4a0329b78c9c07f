package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/DolevBitran/dynamic-products-scraper/pkg/messaging"
	"github.com/spf13/cobra"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Answer scrape requests published on NATS",
	Long: `Runs a collection scraper agent. Each request carries either rendered page
HTML or a URL to load; the agent replies with the records scraped from it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		nc, err := messaging.Connect(cfg.NATS.URL, "products-scraper-agent")
		if err != nil {
			return err
		}
		defer nc.Close()

		handler := messaging.NewHandler(a.collection, a.source, a.registry, logger)
		agent := messaging.NewAgent(nc, cfg.NATS.Subject, handler, logger)
		return agent.Serve(ctx)
	},
}

func init() {
	RootCmd.AddCommand(agentCmd)
}

