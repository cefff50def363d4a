package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/analytics-loaders/bulkfetch/pkg/cache"
	"github.com/analytics-loaders/bulkfetch/pkg/client"
	"github.com/analytics-loaders/bulkfetch/pkg/config"
	"github.com/analytics-loaders/bulkfetch/pkg/logging"
	"github.com/analytics-loaders/bulkfetch/pkg/metrics"
	"github.com/analytics-loaders/bulkfetch/pkg/pagination"
	"github.com/analytics-loaders/bulkfetch/pkg/period"
	"github.com/analytics-loaders/bulkfetch/pkg/ratelimit"
	"github.com/analytics-loaders/bulkfetch/pkg/request"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type runOptions struct {
	configPath  string
	vendor      string
	endpoint    string
	from        string
	to          string
	offsetTotal int
	listParam   string
	listValues  []string
	out         string
	metricsAddr string
	refresh     bool
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch every page of an endpoint and write one JSON line per page",
		Example: `  bulkfetch run --config vendors.yaml --vendor callibri --endpoint site_get_statistics \
      --from 2024-01-01 --to 2024-03-31
  bulkfetch run --config vendors.yaml --vendor redmine --endpoint issues.json --offset-total 1200
  bulkfetch run --config vendors.yaml --vendor redmine --endpoint issues.json \
      --list-param assigned_to_id --list-values 5,8,13`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", getEnv("BULKFETCH_CONFIG", "vendors.yaml"), "Vendor configuration file")
	flags.StringVar(&opts.vendor, "vendor", "", "Vendor name from the configuration")
	flags.StringVar(&opts.endpoint, "endpoint", "", "Endpoint path relative to the vendor base URL")
	flags.StringVar(&opts.from, "from", "", "First day of the range (period paging)")
	flags.StringVar(&opts.to, "to", "", "Last day of the range (period paging)")
	flags.IntVar(&opts.offsetTotal, "offset-total", 0, "Total records to page through with offset/limit")
	flags.StringVar(&opts.listParam, "list-param", "", "Parameter receiving one value per page")
	flags.StringSliceVar(&opts.listValues, "list-values", nil, "Values for --list-param")
	flags.StringVarP(&opts.out, "out", "o", "", "Output file (default stdout)")
	flags.BoolVar(&opts.refresh, "refresh", false, "Drop the vendor's cached pages before fetching")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "Expose /metrics on this address; overrides METRICS_ADDR")
	_ = cmd.MarkFlagRequired("vendor")
	_ = cmd.MarkFlagRequired("endpoint")
	cmd.MarkFlagsRequiredTogether("from", "to")
	cmd.MarkFlagsRequiredTogether("list-param", "list-values")
	cmd.MarkFlagsMutuallyExclusive("from", "offset-total", "list-param")

	return cmd
}

func runBatch(ctx context.Context, opts *runOptions, stdout io.Writer) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	vendor, err := cfg.Vendor(opts.vendor)
	if err != nil {
		return err
	}
	logger := logging.ForVendor("bulkfetch", vendor.Name)

	template, err := vendor.Template(opts.endpoint)
	if err != nil {
		return fmt.Errorf("build request template: %w", err)
	}
	builder, err := opts.builder(vendor, template)
	if err != nil {
		return err
	}
	specs, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build requests: %w", err)
	}

	if addr := firstNonEmpty(opts.metricsAddr, cfg.MetricsAddr); addr != "" {
		metricsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := metrics.Serve(metricsCtx, addr, logger); err != nil {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	clientOpts := []client.Option{
		client.WithVendor(vendor.Name),
		client.WithUserAgent(cfg.UserAgent),
		client.WithLogger(logger),
	}
	batchOpts := []pagination.Option{pagination.WithLogger(logger)}

	if cfg.RedisURL != "" {
		rdb, err := openRedis(ctx, cfg.RedisURL, logger)
		if err != nil {
			return err
		}
		defer rdb.Close()

		if vendor.Cache.Enabled {
			pages := cache.NewManager(rdb)
			if opts.refresh {
				if _, err := pages.Purge(ctx, vendor.Name); err != nil {
					return fmt.Errorf("purge page cache: %w", err)
				}
			}
			clientOpts = append(clientOpts,
				client.WithCache(pages),
				client.WithCacheTTL(vendor.Cache.TTL.Duration))
		}
		if quotaOpts, ok := vendor.QuotaOptions(); ok {
			clientOpts = append(clientOpts, client.WithQuota(ratelimit.NewQuotaTracker(rdb, logger, quotaOpts)))
		}
		if vendor.SharedRateLimit {
			window, err := ratelimit.NewWindow(rdb, vendor.Name, vendor.RequestsPerSecond, time.Second, logger)
			if err != nil {
				return err
			}
			batchOpts = append(batchOpts, pagination.WithLimiter(window))
		}
	} else if vendor.Cache.Enabled || vendor.Quota != nil || vendor.SharedRateLimit {
		logger.Warn().Msg("redis_url not set, page cache, quota tracking and shared rate limit are disabled")
	}
	batchOpts = append(batchOpts, pagination.WithClientOptions(clientOpts...))

	out := stdout
	if opts.out != "" {
		fh, err := os.Create(opts.out)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer fh.Close()
		out = fh
	}

	fetcher := pagination.NewBatchFetcher(vendor.BatchConfig(), batchOpts...)
	outcomes, fetchErr := fetcher.FetchAll(ctx, specs)
	if err := writeOutcomes(out, outcomes); err != nil {
		return err
	}
	if fetchErr != nil {
		return fmt.Errorf("batch interrupted after %d of %d pages: %w", len(outcomes), len(specs), fetchErr)
	}

	summary := pagination.Summarize(outcomes)
	if failed := summary.Exhausted + summary.Fatal; failed > 0 {
		return fmt.Errorf("%d of %d pages failed", failed, len(outcomes))
	}
	return nil
}

// builder picks the paging scheme selected by the flags.
func (o *runOptions) builder(vendor config.Vendor, template request.Spec) (request.Builder, error) {
	switch {
	case o.from != "" || o.to != "":
		start, end, err := period.ParseRange(o.from, o.to, vendor.DateLayout)
		if err != nil {
			return nil, err
		}
		maxDays := vendor.MaxWindowDays
		if maxDays == 0 {
			// No vendor cap: the whole range in one request.
			maxDays = max(1, period.Window{Start: start, End: end}.Days())
		}
		return request.PeriodBuilder{
			Template:      template,
			Start:         start,
			End:           end,
			MaxWindowDays: maxDays,
			FromParam:     vendor.DateFromParam,
			ToParam:       vendor.DateToParam,
			Layout:        vendor.DateLayout,
		}, nil
	case o.offsetTotal > 0:
		return request.OffsetBuilder{
			Template:    template,
			OffsetParam: vendor.OffsetParam,
			LimitParam:  vendor.LimitParam,
			Limit:       vendor.PageSize,
			Total:       o.offsetTotal,
		}, nil
	case o.listParam != "":
		return request.ListBuilder{
			Template: template,
			Param:    o.listParam,
			Values:   o.listValues,
		}, nil
	default:
		return nil, errors.New("one of --from/--to, --offset-total or --list-param/--list-values is required")
	}
}

// outcomeRecord is the JSON line written per page.
type outcomeRecord struct {
	Page      int    `json:"page"`
	Outcome   string `json:"outcome"`
	Status    int    `json:"status,omitempty"`
	Attempts  int    `json:"attempts"`
	FromCache bool   `json:"from_cache,omitempty"`
	Payload   any    `json:"payload,omitempty"`
	Error     string `json:"error,omitempty"`

	// Body is the vendor's response to a fatal status, such as a 4xx.
	Body any `json:"body,omitempty"`
}

func writeOutcomes(w io.Writer, outcomes []client.Outcome) error {
	enc := json.NewEncoder(w)
	for _, o := range outcomes {
		rec := outcomeRecord{
			Page:      o.PageID,
			Outcome:   o.Kind.String(),
			Status:    o.Status,
			Attempts:  o.Attempts,
			FromCache: o.FromCache,
			Payload:   jsonValue(o.Payload),
		}
		if o.Err != nil {
			rec.Error = o.Err.Error()
		}
		if fatalErr, ok := o.AsFatal(); ok {
			rec.Body = jsonValue(fatalErr.Body)
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("write outcome %d: %w", o.PageID, err)
		}
	}
	return nil
}

// jsonValue embeds b as JSON when it is valid JSON and as a string otherwise.
func jsonValue(b []byte) any {
	switch {
	case len(b) == 0:
		return nil
	case json.Valid(b):
		return json.RawMessage(b)
	default:
		return string(b)
	}
}

// openRedis accepts either a redis:// URL or a bare host:port address.
func openRedis(ctx context.Context, addr string, logger zerolog.Logger) (*redis.Client, error) {
	opts := &redis.Options{Addr: addr}
	if strings.Contains(addr, "://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}
	logger.Debug().Str("addr", opts.Addr).Msg("Connected to Redis")
	return rdb, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
