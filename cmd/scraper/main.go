package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"PriceWatch/internal/app"
	"PriceWatch/internal/logger"
	"PriceWatch/internal/queue"
	"PriceWatch/internal/scheduler"
	"PriceWatch/internal/tracker"
	"PriceWatch/pkg/config"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	root := &cobra.Command{
		Use:           "pricewatch",
		Short:         "Electronic component price and stock tracker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "config.yml", "config file")

	root.AddCommand(runCmd(), scrapeCmd(), enqueueCmd(), seedCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// withApp loads the config, builds the application and closes it after fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx := cmd.Context()
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("Shutdown incomplete", logger.Error(err))
		}
	}()
	return fn(ctx, a)
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Consume the scraping and notification queues and run the daily scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				a.Log.Info("Starting workers", logger.String("env", a.Config.Env))
				return a.RunWorkers(ctx)
			})
		},
	}
}

func scrapeCmd() *cobra.Command {
	var (
		productID int64
		vendor    string
		url       string
		by        string
	)
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Scrape one product page now and print the outcome",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				parser, err := a.Registry.Lookup(vendor)
				if err != nil {
					return err
				}
				tr, err := a.Tracker()
				if err != nil {
					return err
				}
				out := tr.ScrapeOnce(ctx, productID, parser.Vendor(), url, by)

				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(out); err != nil {
					return err
				}
				if !out.Success {
					return fmt.Errorf("scrape failed: %s", out.Error)
				}
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&productID, "product", 0, "product id")
	cmd.Flags().StringVar(&vendor, "vendor", "", "vendor identifier")
	cmd.Flags().StringVar(&url, "url", "", "product page url")
	cmd.Flags().StringVar(&by, "by", "cli", "who triggered the scrape")
	for _, name := range []string{"product", "vendor", "url"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid product id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func printJob(cmd *cobra.Command, job *queue.Job) {
	fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s job %s\n", job.Name, job.ID)
}

func enqueueCmd() *cobra.Command {
	var by string
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Add scrape jobs to the scraping queue",
	}
	cmd.PersistentFlags().StringVar(&by, "by", "cli", "who triggered the scrape")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "product <id>...",
			Short: "Scrape products, one job each",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ids, err := parseIDs(args)
				if err != nil {
					return err
				}
				return withApp(cmd, func(ctx context.Context, a *app.App) error {
					for _, id := range ids {
						job, err := tracker.EnqueueProduct(ctx, a.Scraping, id, by)
						if err != nil {
							return err
						}
						printJob(cmd, job)
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "batch <id>...",
			Short: "Scrape several products in one job",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ids, err := parseIDs(args)
				if err != nil {
					return err
				}
				return withApp(cmd, func(ctx context.Context, a *app.App) error {
					job, err := tracker.EnqueueBatch(ctx, a.Scraping, ids, by)
					if err != nil {
						return err
					}
					printJob(cmd, job)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "vendor <name>",
			Short: "Scrape every active product listed on one vendor",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, func(ctx context.Context, a *app.App) error {
					parser, err := a.Registry.Lookup(args[0])
					if err != nil {
						return err
					}
					job, err := tracker.EnqueueVendor(ctx, a.Scraping, parser.Vendor(), by)
					if err != nil {
						return err
					}
					printJob(cmd, job)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "daily",
			Short: "Enqueue the daily scrape now",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withApp(cmd, func(ctx context.Context, a *app.App) error {
					sched, err := scheduler.New(a.Config.Scheduler, a.Repo, a.Scraping, a.Log)
					if err != nil {
						return err
					}
					job, err := sched.EnqueueDaily(ctx)
					if err != nil {
						return err
					}
					if job == nil {
						fmt.Fprintln(cmd.OutOrStdout(), "no active products")
						return nil
					}
					printJob(cmd, job)
					return nil
				})
			},
		},
	)
	return cmd
}

func seedCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the product catalog file into the database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				path := file
				if path == "" {
					path = a.Config.Catalog.Path
				}
				n, err := a.Seed(ctx, path)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "seeded %d products from %s\n", n, path)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "catalog file (default from config)")
	return cmd
}
