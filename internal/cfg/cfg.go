package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/keithlinneman/toptalkers/internal/log"
)

type App struct {
	LogJSON         bool
	LogLevel        string
	HTTPPort        int
	AdminPort       int
	EnablePprof     bool
	EnablePyroscope bool
	EnableTracing   bool
	PyroServer      string
	PyroTenantID    string
	OTLPEndpoint    string
	TraceSample     float64

	TrustedHops int

	TrackerCapacity int
	EpochInterval   time.Duration
	EpochDaily      bool

	EnableRateLimit      bool
	RateLimitPerSecond   float64
	RateLimitBurst       int
	RateLimitMaxVisitors int

	EnableReports  bool
	ReportS3Bucket string
	ReportS3Prefix string
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 0, "number of trusted reverse proxies in front of the server (0..16)")
	fs.IntVar(&c.TrackerCapacity, "tracker-capacity", 100, "number of top addresses to keep ranked (1..100000)")
	fs.DurationVar(&c.EpochInterval, "epoch-interval", 0, "reset tracking counters every interval (0 disables; ignored with -epoch-daily)")
	fs.BoolVar(&c.EpochDaily, "epoch-daily", false, "reset tracking counters at midnight UTC")
	fs.BoolVar(&c.EnableRateLimit, "enable-ratelimit", true, "Enable per-IP request rate limiting")
	fs.Float64Var(&c.RateLimitPerSecond, "ratelimit-per-second", 10, "sustained requests per second per IP")
	fs.IntVar(&c.RateLimitBurst, "ratelimit-burst", 20, "burst size per IP")
	fs.IntVar(&c.RateLimitMaxVisitors, "ratelimit-max-visitors", 100000, "max tracked IPs before new IPs are rejected (0 disables the cap)")
	fs.BoolVar(&c.EnableReports, "enable-reports", false, "Export a ranking report to S3 before each epoch reset")
	fs.StringVar(&c.ReportS3Bucket, "report-s3-bucket", "", "s3 bucket name to write epoch reports to")
	fs.StringVar(&c.ReportS3Prefix, "report-s3-prefix", "reports/toptalkers", "s3 prefix (key) to write epoch reports under")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	// Log level
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}

	// Tracing sample
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	// Pyroscope (URL and scheme)
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	// Client IP resolution
	if c.TrustedHops < 0 || c.TrustedHops > 16 {
		errs = append(errs, fmt.Errorf("TRUSTED_HOPS must be 0..16 (got %d)", c.TrustedHops))
	}

	// Tracker
	if c.TrackerCapacity < 1 || c.TrackerCapacity > 100000 {
		errs = append(errs, fmt.Errorf("TRACKER_CAPACITY must be 1..100000 (got %d)", c.TrackerCapacity))
	}
	if c.EpochInterval < 0 {
		errs = append(errs, fmt.Errorf("EPOCH_INTERVAL must be >= 0 (got %s)", c.EpochInterval))
	} else if c.EpochInterval > 0 && c.EpochInterval < time.Minute {
		errs = append(errs, fmt.Errorf("EPOCH_INTERVAL must be at least 1m (got %s)", c.EpochInterval))
	}
	if c.EpochDaily && c.EpochInterval > 0 {
		errs = append(errs, fmt.Errorf("EPOCH_DAILY and EPOCH_INTERVAL are mutually exclusive"))
	}

	// Rate limiting
	if c.EnableRateLimit {
		if c.RateLimitPerSecond <= 0 {
			errs = append(errs, fmt.Errorf("RATELIMIT_PER_SECOND must be > 0 (got %g)", c.RateLimitPerSecond))
		}
		if c.RateLimitBurst < 1 {
			errs = append(errs, fmt.Errorf("RATELIMIT_BURST must be >= 1 (got %d)", c.RateLimitBurst))
		}
		if c.RateLimitMaxVisitors < 0 {
			errs = append(errs, fmt.Errorf("RATELIMIT_MAX_VISITORS must be >= 0 (got %d)", c.RateLimitMaxVisitors))
		}
	}

	// Epoch reports
	if c.EnableReports {
		if c.ReportS3Bucket == "" {
			errs = append(errs, fmt.Errorf("REPORT_S3_BUCKET required when ENABLE_REPORTS=true"))
		}
		if c.ReportS3Prefix == "" {
			errs = append(errs, fmt.Errorf("REPORT_S3_PREFIX required when ENABLE_REPORTS=true"))
		}
		if !c.EpochDaily && c.EpochInterval == 0 {
			errs = append(errs, fmt.Errorf("ENABLE_REPORTS=true requires EPOCH_DAILY or EPOCH_INTERVAL"))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
