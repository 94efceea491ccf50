// Command bizdir runs the business directory review engine: it prints the
// review queue, exports the directory as XLSX, maintains the image store and
// serves operational metrics.
package main

import (
	"context"
	"errors"
	"expvar"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"bizdir/internal/assets"
	"bizdir/internal/blob"
	"bizdir/internal/config"
	"bizdir/internal/core"
	"bizdir/internal/fields"
	"bizdir/internal/identifier"
	"bizdir/internal/infra/lock/redislock"
	"bizdir/internal/logging"
	"bizdir/internal/report"
	"bizdir/internal/taxonomy"
)

var exitFunc = os.Exit

const usage = `usage: bizdir [-env file] <command> [flags]

commands:
  pending              list change requests awaiting review
  export -o file.xlsx  write the directory and its history as a workbook
  sweep [-grace 1h]    delete stored images nothing references
  image [-o file] key  print a download URL for an image, or save it
  serve                expose /metrics and /debug/vars until interrupted
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	exitFunc(code)
}

func cli(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("bizdir", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { _, _ = fmt.Fprint(stderr, usage) }
	envFile := fs.String("env", "", "optional .env file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}
	var files []string
	if *envFile != "" {
		files = append(files, *envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}

	command, rest := fs.Arg(0), fs.Args()[1:]
	switch command {
	case "pending":
		err = withApp(ctx, cfg, appOptions{}, func(a *app) error { return listPending(a, stdout) })
	case "export":
		err = runExport(ctx, cfg, rest, stderr)
	case "sweep":
		err = runSweep(ctx, cfg, rest, stdout, stderr)
	case "image":
		err = runImage(ctx, cfg, rest, stdout, stderr)
	case "serve":
		err = runServe(ctx, cfg, rest, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n", command)
		fs.Usage()
		return 2
	}
	if errors.Is(err, flag.ErrHelp) {
		return 2
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%s failed: %v\n", command, err)
		return 1
	}
	return 0
}

type appOptions struct {
	serviceOpts []core.ServiceOption
}

type app struct {
	cfg     config.Config
	logger  *zap.Logger
	service *core.Service
}

// withApp wires the configured backends, seeds the taxonomy and runs fn.
func withApp(ctx context.Context, cfg config.Config, opts appOptions, fn func(*app) error) (err error) {
	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = closeLog() }()

	policy := fields.DefaultImagePolicy()
	policy.MaxBytes = cfg.Assets.MaxImageBytes
	alloc := identifier.Allocator{Prefix: cfg.Directory.IdentifierPrefix}

	engine := core.NewRulesEngine()
	for _, rule := range core.DefaultRules(alloc, policy) {
		engine.Register(rule)
	}
	store, err := core.OpenPersistentStore(ctx, cfg.Storage, engine)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if cerr := core.CloseStore(context.Background(), store); cerr != nil && err == nil {
			err = fmt.Errorf("close store: %w", cerr)
		}
	}()

	blobs, err := blob.Open(ctx, cfg.Assets.Blob())
	if err != nil {
		return fmt.Errorf("open asset store: %w", err)
	}
	coordinator := assets.New(blobs,
		assets.WithPolicy(policy),
		assets.WithLimiter(rate.NewLimiter(rate.Limit(cfg.Assets.UploadRate), cfg.Assets.UploadBurst)),
		assets.WithPublicBaseURL(cfg.Assets.PublicBaseURL),
		assets.WithLogger(logger.Named("assets")),
	)

	serviceOpts := []core.ServiceOption{
		core.WithLogger(logging.NewAdapter(logger.Named("service"))),
		core.WithAuditRecorder(zapAuditRecorder{logger: logger.Named("audit")}),
		core.WithAllocator(alloc),
		core.WithFieldEngine(fields.NewEngine(
			fields.WithCallingCode(cfg.Directory.CallingCode),
			fields.WithImagePolicy(policy),
		)),
	}
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer func() { _ = client.Close() }()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		serviceOpts = append(serviceOpts, core.WithAllocationLock(redislock.New(client, redislock.Config{})))
	}
	serviceOpts = append(serviceOpts, opts.serviceOpts...)
	svc := core.NewService(store, coordinator, serviceOpts...)

	if path := cfg.Directory.TaxonomySeed; path != "" {
		entries, err := taxonomy.LoadSeed(path)
		if err != nil {
			return fmt.Errorf("load taxonomy seed: %w", err)
		}
		created, err := svc.SeedTaxonomy(ctx, "system", entries)
		if err != nil {
			return fmt.Errorf("seed taxonomy: %w", err)
		}
		logger.Info("taxonomy seeded", zap.String("path", path), zap.Int("created", created))
	}
	return fn(&app{cfg: cfg, logger: logger, service: svc})
}

func listPending(a *app, stdout io.Writer) error {
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "REQUEST\tKIND\tTARGET\tFIELD\tSUBMITTED BY\tSUBMITTED AT")
	for _, req := range a.service.ListPendingRequests() {
		target := "-"
		if req.TargetID != nil {
			target = *req.TargetID
		}
		field := req.Field
		if field == "" {
			field = "-"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			req.ID, req.Kind, target, field, req.SubmittedBy, req.SubmittedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func runExport(ctx context.Context, cfg config.Config, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	out := fs.String("o", "directory.xlsx", "output workbook path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return withApp(ctx, cfg, appOptions{}, func(a *app) (err error) {
		file, err := os.Create(*out) // #nosec G304: operator-supplied output path
		if err != nil {
			return fmt.Errorf("create %s: %w", *out, err)
		}
		defer func() {
			if cerr := file.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("close %s: %w", *out, cerr)
			}
		}()
		records := a.service.ListRecords()
		if err := report.WriteDirectory(file, records); err != nil {
			return err
		}
		a.logger.Info("directory exported", zap.String("path", *out), zap.Int("records", len(records)))
		return nil
	})
}

func runSweep(ctx context.Context, cfg config.Config, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("sweep", flag.ContinueOnError)
	fs.SetOutput(stderr)
	grace := fs.Duration("grace", time.Hour, "keep objects uploaded more recently than this")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return withApp(ctx, cfg, appOptions{}, func(a *app) error {
		swept, err := a.service.SweepOrphans(ctx, "cli", *grace)
		for _, handle := range swept {
			_, _ = fmt.Fprintln(stdout, handle)
		}
		return err
	})
}

func runImage(ctx context.Context, cfg config.Config, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("image", flag.ContinueOnError)
	fs.SetOutput(stderr)
	out := fs.String("o", "", "save the image to this path instead of printing a URL")
	expiry := fs.Duration("expiry", 15*time.Minute, "lifetime of a signed URL")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		_, _ = fmt.Fprintln(stderr, "image: exactly one image key is required")
		return flag.ErrHelp
	}
	handle := fs.Arg(0)
	return withApp(ctx, cfg, appOptions{}, func(a *app) (err error) {
		coordinator := a.service.Assets()
		if *out == "" {
			url, err := coordinator.SignedURL(ctx, handle, *expiry)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(stdout, url)
			return err
		}
		info, body, err := coordinator.Open(ctx, handle)
		if err != nil {
			return err
		}
		defer func() { _ = body.Close() }()
		file, err := os.Create(*out) // #nosec G304: operator-supplied output path
		if err != nil {
			return fmt.Errorf("create %s: %w", *out, err)
		}
		defer func() {
			if cerr := file.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("close %s: %w", *out, cerr)
			}
		}()
		n, err := io.Copy(file, body)
		if err != nil {
			return fmt.Errorf("write %s: %w", *out, err)
		}
		a.logger.Info("image saved", zap.String("key", info.Key), zap.String("path", *out), zap.Int64("bytes", n))
		return nil
	})
}

func runServe(ctx context.Context, cfg config.Config, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", cfg.MetricsAddr, "listen address")
	trace := fs.Bool("trace", false, "write one JSON span per operation to stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promRecorder, err := core.NewPrometheusMetricsRecorder(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	metrics := fanoutMetrics{promRecorder, core.NewExpvarMetricsRecorder("bizdir_operations")}
	opts := appOptions{serviceOpts: []core.ServiceOption{core.WithMetricsRecorder(metrics)}}
	if *trace {
		opts.serviceOpts = append(opts.serviceOpts, core.WithTracer(core.NewJSONTracer(stderr)))
	}

	return withApp(ctx, cfg, opts, func(a *app) error {
		expvar.Publish("bizdir_pending_requests", expvar.Func(func() any {
			return len(a.service.ListPendingRequests())
		}))
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		mux.Handle("/debug/vars", expvar.Handler())
		srv := &http.Server{Addr: *addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()
		a.logger.Info("serving metrics", zap.String("addr", *addr))
		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
}

type fanoutMetrics []core.MetricsRecorder

func (f fanoutMetrics) Observe(ctx context.Context, operation string, success bool, duration time.Duration) {
	for _, r := range f {
		r.Observe(ctx, operation, success, duration)
	}
}

// zapAuditRecorder writes audit entries to a dedicated logger.
type zapAuditRecorder struct {
	logger *zap.Logger
}

func (z zapAuditRecorder) Record(_ context.Context, entry core.AuditEntry) {
	attrs := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("entity", string(entry.Entity)),
		zap.String("action", string(entry.Action)),
		zap.String("entity_id", entry.EntityID),
		zap.String("actor", entry.Actor),
		zap.String("status", string(entry.Status)),
		zap.Duration("duration", entry.Duration),
		zap.Time("at", entry.Timestamp),
	}
	if entry.Error != "" {
		attrs = append(attrs, zap.String("error", entry.Error))
	}
	z.logger.Info("audit", attrs...)
}
