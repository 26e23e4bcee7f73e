package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/app"
	"github.com/JakeFAU/listing-crawler/internal/config"
	"github.com/JakeFAU/listing-crawler/internal/logging"
)

// newCrawlCmd creates the 'crawl' subcommand, which performs one full run.
func newCrawlCmd(cfgFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawls the listing starting at the seed URL",
		Long: `Fetches the seed page, waits for the listing to render, extracts its
records and follows pagination to the end. Output is written once, at the
end of the run. A page that never renders ends the crawl early with the
records collected so far; any other failure writes nothing and exits non-zero.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, *cfgFile)
		},
	}
	flags := cmd.Flags()
	flags.String("seed", "", "seed URL of the listing (env INPUT_URL)")
	flags.String("output", "", "output file, gs://bucket/object or postgres:// DSN (env OUTPUT_FILE)")
	flags.String("proxy", "", "proxy server URL (env PROXY)")
	flags.Int("max-pages", 0, "stop after this many pages; 0 means no limit")
	flags.String("fetch-mode", "", "page fetcher: headless or http")
	return cmd
}

func runCrawl(cmd *cobra.Command, cfgFile string) error {
	cfg, err := config.LoadWithFlags(cfgFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	ctx := cmd.Context()
	instance, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize crawl run", zap.Error(err))
		_ = logger.Sync()
		return err
	}
	defer instance.Close()

	if _, err := instance.Run(ctx); err != nil {
		return err
	}
	return nil
}
