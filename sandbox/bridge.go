package sandbox

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Fetch results, used as metric labels
const (
	fetchOK       = "ok"
	fetchRejected = "rejected"
	fetchStatus   = "status"
	fetchFailed   = "failed"
	fetchLimited  = "limited"
	fetchInvalid  = "invalid"
)

// Fetcher performs the blocking HTTP GET behind the script-visible fetch.
// ok is false whenever the script must see undefined.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (body string, ok bool)
}

// FetcherOptions configures an HTTPFetcher
type FetcherOptions struct {
	Timeout      time.Duration
	RetryMax     int
	MaxBodyBytes int64
	RateLimitRPS float64
	Burst        int
	UserAgent    string
}

// HTTPFetcher is the default Fetcher: resty over a retrying transport,
// guarded by a token bucket
type HTTPFetcher struct {
	client  *resty.Client
	limiter *rate.Limiter
	maxBody int64
	logger  *zap.Logger
	metrics *Metrics
}

// NewHTTPFetcher creates an HTTPFetcher. metrics may be nil.
func NewHTTPFetcher(logger *zap.Logger, opts FetcherOptions, metrics *Metrics) *HTTPFetcher {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.RetryMax
	retryClient.RetryWaitMin = 50 * time.Millisecond
	retryClient.RetryWaitMax = 500 * time.Millisecond
	retryClient.Logger = &retryLogger{log: logger.Named("fetch").Sugar()}
	// Hand the final response back to the caller instead of an error
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	client := resty.NewWithClient(retryClient.StandardClient()).
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", opts.UserAgent)

	limit := rate.Inf
	if opts.RateLimitRPS > 0 {
		limit = rate.Limit(opts.RateLimitRPS)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	return &HTTPFetcher{
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
		maxBody: opts.MaxBodyBytes,
		logger:  logger,
		metrics: metrics,
	}
}

// Fetch implements Fetcher
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (string, bool) {
	body, result := f.fetch(ctx, rawURL)
	if f.metrics != nil {
		f.metrics.FetchRequests.WithLabelValues(result).Inc()
	}
	return body, result == fetchOK
}

func (f *HTTPFetcher) fetch(ctx context.Context, rawURL string) (string, string) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		f.logger.Debug("fetch rejected", zap.String("url", rawURL))
		return "", fetchInvalid
	}

	if err := f.limiter.Wait(ctx); err != nil {
		f.logger.Debug("fetch rate limited", zap.String("url", rawURL), zap.Error(err))
		return "", fetchLimited
	}

	resp, err := f.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(u.String())
	if err != nil {
		f.logger.Debug("fetch failed", zap.String("url", rawURL), zap.Error(err))
		return "", fetchFailed
	}
	raw := resp.RawBody()
	defer raw.Close()

	if resp.StatusCode() >= 400 {
		f.logger.Debug("fetch returned error status",
			zap.String("url", rawURL),
			zap.Int("status", resp.StatusCode()),
		)
		return "", fetchStatus
	}

	// Read one byte past the limit to detect oversized bodies
	data, err := io.ReadAll(io.LimitReader(raw, f.maxBody+1))
	if err != nil {
		f.logger.Debug("fetch body read failed", zap.String("url", rawURL), zap.Error(err))
		return "", fetchFailed
	}
	if int64(len(data)) > f.maxBody {
		f.logger.Debug("fetch body too large", zap.String("url", rawURL), zap.Int64("limit", f.maxBody))
		return "", fetchRejected
	}
	if !utf8.Valid(data) {
		f.logger.Debug("fetch body is not valid UTF-8", zap.String("url", rawURL))
		return "", fetchRejected
	}

	return string(data), fetchOK
}

// HostBridge is the single host capability exposed to scripts. Backends call
// Fetch from inside the isolate's thread.
type HostBridge struct {
	fetcher Fetcher
	handle  *CancellationHandle
}

func newHostBridge(fetcher Fetcher, handle *CancellationHandle) *HostBridge {
	return &HostBridge{fetcher: fetcher, handle: handle}
}

// Fetch performs the script's fetch call. Termination of the execution
// aborts the request through the handle's context.
func (b *HostBridge) Fetch(rawURL string) (body string, ok bool) {
	if b.fetcher == nil || b.handle.Requested() {
		return "", false
	}
	defer func() {
		// A fetcher must never unwind into the virtual machine
		if r := recover(); r != nil {
			body, ok = "", false
		}
	}()
	return b.fetcher.Fetch(b.handle.Context(), rawURL)
}

// retryLogger routes retryablehttp logging to zap
type retryLogger struct {
	log *zap.SugaredLogger
}

var _ retryablehttp.LeveledLogger = (*retryLogger)(nil)

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, keysAndValues...)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log.Warnw(msg, keysAndValues...)
}

// String implements fmt.Stringer for log output of the options
func (o FetcherOptions) String() string {
	return fmt.Sprintf("timeout=%s retry_max=%d max_body_bytes=%d rps=%g burst=%d",
		o.Timeout, o.RetryMax, o.MaxBodyBytes, o.RateLimitRPS, o.Burst)
}
