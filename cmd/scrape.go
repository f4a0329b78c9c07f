package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/DolevBitran/dynamic-products-scraper/pkg/messaging"
	"github.com/DolevBitran/dynamic-products-scraper/pkg/model"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	scrapeWebsite string
	scrapeSave    bool
	scrapeDetail  bool
	scrapeRemote  bool
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape <listing-url>",
	Short: "Scrape one listing page with the registered collection fields",
	Long: `Scrapes a listing page and prints the records as JSON. With --save the records
are reconciled into the product store, and --detail then scrapes each saved
record's detail page. --remote sends the page to a NATS agent instead of
scraping it locally.`,
	Args: cobra.ExactArgs(1),
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

		fields := a.registry.ByScope(model.ScopeCollection)
		if len(fields) == 0 {
			return fmt.Errorf("no %s fields are registered", model.ScopeCollection)
		}

		var records []model.Record
		if scrapeRemote {
			records, err = scrapeViaAgent(ctx, cfg.NATS.URL, cfg.NATS.Subject, fields, args[0])
		} else {
			records, err = a.scrapeLocal(ctx, fields, args[0])
		}
		if err != nil {
			return err
		}
		logger.Info("Scraped listing", zap.String("url", args[0]), zap.Int("records", len(records)))

		if scrapeWebsite != "" {
			for i := range records {
				records[i].WebsiteTags = append(records[i].WebsiteTags, scrapeWebsite)
			}
		}

		if scrapeSave && len(records) > 0 {
			res, err := a.reconciler.UpsertBatch(ctx, records)
			if err != nil {
				return err
			}
			records = res.Records
			logger.Info("Saved records",
				zap.Int("matched", res.Matched),
				zap.Int("minted", res.Minted),
				zap.Int("upserted", res.Summary.Upserted))

			if scrapeDetail {
				res, err := a.enricher.EnrichBatch(ctx, records)
				if err != nil {
					return err
				}
				if len(res.Records) > 0 {
					records = mergeByID(records, res.Records)
				}
			}
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	},
}

func init() {
	RootCmd.AddCommand(scrapeCmd)
	scrapeCmd.Flags().StringVar(&scrapeWebsite, "website", "", "website tag added to every record")
	scrapeCmd.Flags().BoolVar(&scrapeSave, "save", false, "reconcile the records into the product store")
	scrapeCmd.Flags().BoolVar(&scrapeDetail, "detail", false, "scrape detail pages of saved records")
	scrapeCmd.Flags().BoolVar(&scrapeRemote, "remote", false, "delegate the scrape to a NATS agent")
}

func (a *app) scrapeLocal(ctx context.Context, fields []model.FieldDefinition, url string) ([]model.Record, error) {
	page, err := a.source.Load(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", url, err)
	}
	return a.collection.ScrapeCollection(fields, page), nil
}

func scrapeViaAgent(ctx context.Context, natsURL, subject string, fields []model.FieldDefinition, url string) ([]model.Record, error) {
	nc, err := messaging.Connect(natsURL, "products-scraper-cli")
	if err != nil {
		return nil, err
	}
	defer nc.Close()

	res, err := messaging.NewClient(nc, subject).Scrape(ctx, messaging.ScrapeRequest{Fields: fields, URL: url})
	if err != nil {
		return nil, err
	}
	return res.Payload, nil
}

// mergeByID replaces records with their enriched versions where one exists.
func mergeByID(records, enriched []model.Record) []model.Record {
	byID := make(map[string]model.Record, len(enriched))
	for _, rec := range enriched {
		byID[rec.ID] = rec
	}
	for i, rec := range records {
		if e, ok := byID[rec.ID]; ok {
			records[i] = e
		}
	}
	return records
}
