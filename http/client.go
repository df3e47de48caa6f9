package http

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	nethttp "net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/http/httpguts"
	"golang.org/x/time/rate"

	"github.com/gaborage/resilient-http/config"
	"github.com/gaborage/resilient-http/logger"
	"github.com/gaborage/resilient-http/retry"
)

const (
	// DefaultTimeout bounds a single attempt
	DefaultTimeout = 30 * time.Second

	// DefaultConnectTimeout bounds dialing and the TLS handshake
	DefaultConnectTimeout = 10 * time.Second

	// DefaultMaxRedirects is the number of redirects followed before failing
	DefaultMaxRedirects = 3

	// DefaultContentType is sent with a body when the caller gave none
	DefaultContentType = "application/json"
)

// errInsecureTLS is returned by Build when a TLS config disables verification.
var errInsecureTLS = errors.New("TLS certificate verification cannot be disabled")

// Config holds the executor configuration fixed at construction.
type Config struct {
	Timeout        time.Duration
	ConnectTimeout time.Duration
	MaxRedirects   int
	UserAgent      string
	ContentType    string
	Retry          retry.Policy
	// RateLimit caps attempts per second across all calls; zero disables it.
	RateLimit float64
	RateBurst int
	// DefaultHeaders are "Name: Value" lines sent on every request before
	// the caller's own lines, which override them.
	DefaultHeaders []string
	BasicAuth      *BasicAuth
}

func defaultConfig() *Config {
	return &Config{
		Timeout:        DefaultTimeout,
		ConnectTimeout: DefaultConnectTimeout,
		MaxRedirects:   DefaultMaxRedirects,
		UserAgent:      config.DefaultUserAgent,
		ContentType:    DefaultContentType,
		Retry:          retry.DefaultPolicy(),
	}
}

// client implements the Client interface. It is handed out as a pointer
// and must not be copied.
type client struct {
	httpClient           *nethttp.Client
	transport            *nethttp.Transport // nil when the caller supplied the transport
	logger               logger.Logger
	config               *Config
	policy               retry.Policy
	sleep                Sleeper
	limiter              *rate.Limiter
	requestInterceptors  []RequestInterceptor
	responseInterceptors []ResponseInterceptor
	callCount            int64
	closed               atomic.Bool
	closeOnce            sync.Once
}

// NewClient creates a new REST client with default configuration
func NewClient(log logger.Logger) (Client, error) {
	return NewBuilder(log).Build()
}

// Builder provides a fluent interface for configuring the REST client
type Builder struct {
	config               *Config
	logger               logger.Logger
	transport            nethttp.RoundTripper
	httpClient           *nethttp.Client
	tlsConfig            *tls.Config
	sleeper              Sleeper
	requestInterceptors  []RequestInterceptor
	responseInterceptors []ResponseInterceptor
}

// NewBuilder creates a new client builder with the default configuration
func NewBuilder(log logger.Logger) *Builder {
	if log == nil {
		log = logger.Nop()
	}
	return &Builder{
		config: defaultConfig(),
		logger: log,
	}
}

// WithConfig applies a loaded client configuration section
func (b *Builder) WithConfig(cfg config.ClientConfig) *Builder {
	b.config.Timeout = cfg.Timeout
	b.config.ConnectTimeout = cfg.ConnectTimeout
	b.config.MaxRedirects = cfg.MaxRedirects
	b.config.UserAgent = cfg.UserAgent
	b.config.ContentType = cfg.ContentType
	b.config.Retry.MaxRetries = cfg.Retry.Max
	b.config.Retry.InitialBackoff = cfg.Retry.InitialBackoff
	b.config.Retry.MaxBackoff = cfg.Retry.MaxBackoff
	b.config.RateLimit = cfg.RateLimit.RPS
	b.config.RateBurst = cfg.RateLimit.Burst
	return b
}

// WithTimeout sets the per-attempt timeout
func (b *Builder) WithTimeout(timeout time.Duration) *Builder {
	b.config.Timeout = timeout
	return b
}

// WithConnectTimeout sets the dial and TLS handshake timeout
func (b *Builder) WithConnectTimeout(timeout time.Duration) *Builder {
	b.config.ConnectTimeout = timeout
	return b
}

// WithMaxRedirects sets how many redirects are followed
func (b *Builder) WithMaxRedirects(maxRedirects int) *Builder {
	b.config.MaxRedirects = maxRedirects
	return b
}

// WithRetries sets the retry budget and backoff bounds
func (b *Builder) WithRetries(maxRetries int, initialBackoff, maxBackoff time.Duration) *Builder {
	b.config.Retry.MaxRetries = maxRetries
	b.config.Retry.InitialBackoff = initialBackoff
	b.config.Retry.MaxBackoff = maxBackoff
	return b
}

// WithJitter replaces the random source of the backoff jitter. fn must
// return values in [0, 1).
func (b *Builder) WithJitter(fn func() float64) *Builder {
	b.config.Retry.Jitter = fn
	return b
}

// WithSleeper replaces the backoff wait, mainly for tests
func (b *Builder) WithSleeper(sleeper Sleeper) *Builder {
	b.sleeper = sleeper
	return b
}

// WithUserAgent sets the default User-Agent header
func (b *Builder) WithUserAgent(userAgent string) *Builder {
	b.config.UserAgent = userAgent
	return b
}

// WithContentType sets the Content-Type used for bodies sent without one
func (b *Builder) WithContentType(contentType string) *Builder {
	b.config.ContentType = contentType
	return b
}

// WithRateLimit caps attempts per second; burst applies to idle periods
func (b *Builder) WithRateLimit(perSecond float64, burst int) *Builder {
	b.config.RateLimit = perSecond
	b.config.RateBurst = burst
	return b
}

// WithBasicAuth sets basic authentication credentials. A caller
// Authorization line still takes precedence.
func (b *Builder) WithBasicAuth(username, password string) *Builder {
	b.config.BasicAuth = &BasicAuth{
		Username: username,
		Password: password,
	}
	return b
}

// WithDefaultHeader adds a default header that will be sent with all requests
func (b *Builder) WithDefaultHeader(key, value string) *Builder {
	b.config.DefaultHeaders = append(b.config.DefaultHeaders, key+": "+value)
	return b
}

// WithRequestInterceptor adds a request interceptor; interceptors run in the
// order they were added.
func (b *Builder) WithRequestInterceptor(interceptor RequestInterceptor) *Builder {
	b.requestInterceptors = append(b.requestInterceptors, interceptor)
	return b
}

// WithResponseInterceptor adds a response interceptor
func (b *Builder) WithResponseInterceptor(interceptor ResponseInterceptor) *Builder {
	b.responseInterceptors = append(b.responseInterceptors, interceptor)
	return b
}

// WithTLSConfig sets the TLS client configuration, e.g. custom root CAs.
// Configs with InsecureSkipVerify are rejected by Build.
func (b *Builder) WithTLSConfig(cfg *tls.Config) *Builder {
	b.tlsConfig = cfg
	return b
}

// WithTransport sets a custom round tripper instead of the built one
func (b *Builder) WithTransport(transport nethttp.RoundTripper) *Builder {
	b.transport = transport
	return b
}

// WithHTTPClient uses a caller-supplied http.Client. Its Timeout and
// CheckRedirect are filled in from the builder when unset.
func (b *Builder) WithHTTPClient(httpClient *nethttp.Client) *Builder {
	b.httpClient = httpClient
	return b
}

// Build validates the configuration and creates the REST client
func (b *Builder) Build() (Client, error) {
	if err := b.validate(); err != nil {
		return nil, fmt.Errorf("invalid client configuration: %w", err)
	}

	cfg := *b.config
	cfg.DefaultHeaders = slices.Clone(cfg.DefaultHeaders)
	c := &client{
		logger:               b.logger,
		config:               &cfg,
		policy:               cfg.Retry,
		sleep:                b.sleeper,
		requestInterceptors:  slices.Clone(b.requestInterceptors),
		responseInterceptors: slices.Clone(b.responseInterceptors),
	}
	if c.sleep == nil {
		c.sleep = sleepContext
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	c.httpClient = b.buildHTTPClient(&cfg)
	if t, ok := c.httpClient.Transport.(*nethttp.Transport); ok && b.httpClient == nil && b.transport == nil {
		c.transport = t
	}
	return c, nil
}

func (b *Builder) validate() error {
	cfg := b.config
	var errs []error
	if cfg.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive: %s", cfg.Timeout))
	}
	if cfg.ConnectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("connect timeout must be positive: %s", cfg.ConnectTimeout))
	}
	if cfg.MaxRedirects < 0 {
		errs = append(errs, fmt.Errorf("max redirects must not be negative: %d", cfg.MaxRedirects))
	}
	if cfg.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("rate limit must not be negative: %g", cfg.RateLimit))
	}
	if err := cfg.Retry.Validate(); err != nil {
		errs = append(errs, err)
	}
	for _, line := range cfg.DefaultHeaders {
		name, value := splitHeaderLine(line)
		if !httpguts.ValidHeaderFieldName(name) || !httpguts.ValidHeaderFieldValue(value) {
			errs = append(errs, fmt.Errorf("invalid default header %q", line))
		}
	}
	if b.tlsConfig != nil && b.tlsConfig.InsecureSkipVerify {
		errs = append(errs, errInsecureTLS)
	}
	return errors.Join(errs...)
}

func (b *Builder) buildHTTPClient(cfg *Config) *nethttp.Client {
	checkRedirect := redirectPolicy(cfg.MaxRedirects)

	if b.httpClient != nil {
		hc := b.httpClient
		if hc.Timeout == 0 {
			hc.Timeout = cfg.Timeout
		}
		if hc.CheckRedirect == nil {
			hc.CheckRedirect = checkRedirect
		}
		return hc
	}

	transport := b.transport
	if transport == nil {
		transport = newTransport(cfg, b.tlsConfig)
	}
	return &nethttp.Client{
		Timeout:       cfg.Timeout,
		Transport:     transport,
		CheckRedirect: checkRedirect,
	}
}

// newTransport builds the baseline transport: bounded connect and TLS
// handshake, certificate verification always on.
func newTransport(cfg *Config, tlsConfig *tls.Config) *nethttp.Transport {
	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}

	if tlsConfig == nil {
		tlsConfig = &tls.Config{}
	} else {
		tlsConfig = tlsConfig.Clone()
	}
	if tlsConfig.MinVersion == 0 {
		tlsConfig.MinVersion = tls.VersionTLS12
	}

	return &nethttp.Transport{
		Proxy:                 nethttp.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSClientConfig:       tlsConfig,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

// redirectPolicy follows up to maxRedirects redirects and then fails with
// retry.ErrTooManyRedirects.
func redirectPolicy(maxRedirects int) func(*nethttp.Request, []*nethttp.Request) error {
	return func(_ *nethttp.Request, via []*nethttp.Request) error {
		if len(via) > maxRedirects {
			return fmt.Errorf("stopped after %d redirects: %w", maxRedirects, retry.ErrTooManyRedirects)
		}
		return nil
	}
}

// Close releases idle connections of the owned transport. It is safe to call
// more than once.
func (c *client) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if c.transport != nil {
			c.transport.CloseIdleConnections()
			return
		}
		c.httpClient.CloseIdleConnections()
	})
	return nil
}
