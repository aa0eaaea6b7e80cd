package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/keithlinneman/toptalkers/internal/cfg"
	"github.com/keithlinneman/toptalkers/internal/httpmw"
	"github.com/keithlinneman/toptalkers/internal/httpserver"
	"github.com/keithlinneman/toptalkers/internal/log"
	"github.com/keithlinneman/toptalkers/internal/metrics"
	"github.com/keithlinneman/toptalkers/internal/opshttp"
	"github.com/keithlinneman/toptalkers/internal/otelx"
	"github.com/keithlinneman/toptalkers/internal/probe"
	"github.com/keithlinneman/toptalkers/internal/prof"
	"github.com/keithlinneman/toptalkers/internal/rankhttp"
	"github.com/keithlinneman/toptalkers/internal/ratelimit"
	"github.com/keithlinneman/toptalkers/internal/report"
	"github.com/keithlinneman/toptalkers/internal/sched"
	"github.com/keithlinneman/toptalkers/internal/tracker"
	v "github.com/keithlinneman/toptalkers/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Get build/version info
	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// Parse config from flags and env
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	// Fill in config from environment variables with prefix TOPTALKERS_ and validate
	cfg.FillFromEnv(flag.CommandLine, "TOPTALKERS_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	// validate config
	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	lg, err := log.New(log.Options{
		App:        v.AppName,
		Level:      lvl,
		JsonFormat: conf.LogJSON,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	// no-op for slog/stderr, but here if we swap backends in the future to ensure any buffered logs are flushed on shutdown
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"commit_date", vi.CommitDate,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"pyro_server", conf.PyroServer,
		"pyro_tenant", conf.PyroTenantID,
		"trace_sample", conf.TraceSample,
		"trusted_hops", conf.TrustedHops,
		"tracker_capacity", conf.TrackerCapacity,
		"epoch_interval", conf.EpochInterval.String(),
		"epoch_daily", conf.EpochDaily,
		"enable_ratelimit", conf.EnableRateLimit,
		"enable_reports", conf.EnableReports,
		"report_s3_bucket", conf.ReportS3Bucket,
		"report_s3_prefix", conf.ReportS3Prefix,
	)

	// Setup pyroscope profiling
	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
			"build_id":  vi.BuildId,
			"source":    "go-agent",
		},
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer func() { stopProf() }()

	// Setup otel for tracing
	// Insecure is true because we are only writing to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}

	// Setup metrics
	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", &vi)

	// the tracker is the core of the service, everything else hangs off it
	tr := tracker.New(
		tracker.WithCapacity(conf.TrackerCapacity),
		tracker.WithOnRecord(func(addr string) {
			m.IncRecord()
		}),
		tracker.WithOnEvict(func(addr string, count uint64) {
			m.IncEviction()
			L.Debug(ctx, "address evicted from ranking", "addr", addr, "count", count)
		}),
	)
	m.SetRankingCapacity(tr.Capacity())
	m.SetEpochStart(tr.EpochStart())
	m.RegisterTrackerGauges(
		func() float64 { return float64(tr.Distinct()) },
		func() float64 { return float64(tr.Len()) },
	)

	// epoch report exporter, writes a ranking snapshot to s3 before each reset
	var exporter sched.Exporter
	if conf.EnableReports {
		exp, err := report.NewExporter(ctx, report.ExporterOptions{
			Logger:   L,
			S3Bucket: conf.ReportS3Bucket,
			S3Prefix: conf.ReportS3Prefix,
		})
		if err != nil {
			L.Error(ctx, err, "failed to create epoch report exporter")
			os.Exit(1)
		}
		exporter = exp
	}

	// epoch resetter, drives scheduled resets and manual ones via the API
	resetter := sched.NewResetter(sched.ResetterOptions{
		Logger:   L,
		Tracker:  tr,
		Interval: conf.EpochInterval,
		Daily:    conf.EpochDaily,
		Exporter: exporter,
		OnReset: func() {
			m.IncEpochReset()
			m.SetEpochStart(tr.EpochStart())
		},
		OnExport: func(ok bool, elapsed time.Duration) {
			m.IncReportExport(ok)
			m.ObserveReportDuration(elapsed.Seconds())
		},
	})
	go resetter.Run(ctx)

	// manual resets via the API go through the resetter so they export
	// a report too when reports are enabled
	rankAPI := rankhttp.NewAPI(tr, resetter.ResetNow, L)

	// setup toggle for server shutdown
	var gate probe.ShutdownGate
	readiness := gate.Probe()

	opts := &httpserver.Options{
		Port:         conf.HTTPPort,
		Health:       probe.Static(true, ""),
		Readiness:    readiness,
		APIRoutes:    rankAPI.RegisterRoutes,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		TrackerMW:    tr.Middleware,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
		Logger:       L,
	}
	if conf.EnableRateLimit {
		limiter := ratelimit.New(ctx,
			ratelimit.WithRate(conf.RateLimitPerSecond, conf.RateLimitBurst),
			ratelimit.WithMaxVisitors(conf.RateLimitMaxVisitors),
			ratelimit.WithOnDenied(func(ip string) {
				m.IncRateLimitDenied()
			}),
			// only log the first denial per visitor to keep noise down
			ratelimit.WithOnFirstDenied(func(ip string) {
				L.Warn(ctx, "rate limit triggered", "ip", ip)
			}),
			ratelimit.WithOnCapacity(func() {
				m.IncRateLimitCapacity()
				L.Warn(ctx, "rate limit visitor capacity reached, rejecting new visitors until some expire")
			}),
		)
		opts.RateLimitMW = limiter.Middleware
	}

	// start public http server
	httpStop, err := httpserver.Start(ctx, opts)
	if err != nil {
		L.Error(ctx, err, "failed to start http listener")
		os.Exit(1)
	}

	// start admin/ops listener to serve metrics, health checks, pprof and any future admin APIs
	// sg restricts inbound to internal monitoring infrastructure
	// we reject connections from public ips in middleware to prevent
	// accidental exposure if sg is misconfigured
	opsStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      probe.Static(true, ""),
		Readiness:   readiness,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}

	// notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		// log and dont exit, worst case systemd will kill the process after timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// block until signal so we dont exit
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	L.Info(context.Background(), "shutdown signal received")

	// fail readiness checks to drain connections
	gate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed")

	// allow in-flight requests to finish and load balancers to notice
	// the failing readiness probe before listeners go away
	L.Info(context.Background(), "sleeping 30s for in-flight requests and load balancer health checks to drain")
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(30 * time.Second):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	if err := httpStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "http server shutdown")
	}

	if err := opsStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}

	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}

	stopProf()

	L.Info(context.Background(), "shutdown complete")
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		conn.Close()
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
