// Package config loads per-vendor loader settings from YAML.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/analytics-loaders/bulkfetch/pkg/client"
	"github.com/analytics-loaders/bulkfetch/pkg/pagination"
	"github.com/analytics-loaders/bulkfetch/pkg/ratelimit"
	"github.com/analytics-loaders/bulkfetch/pkg/request"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration file.
type Config struct {
	RedisURL    string            `yaml:"redis_url"`
	MetricsAddr string            `yaml:"metrics_addr"`
	UserAgent   string            `yaml:"user_agent"`
	Vendors     map[string]Vendor `yaml:"vendors"`
}

// Vendor describes how to talk to one vendor API.
type Vendor struct {
	Name string `yaml:"-"`

	BaseURL string            `yaml:"base_url"`
	Method  string            `yaml:"method"`
	Headers map[string]string `yaml:"headers"`
	Query   map[string]string `yaml:"query"`
	Body    string            `yaml:"body"`

	// TokenEnv names the environment variable holding the API token, sent as
	// "Authorization: <AuthScheme> <token>".
	TokenEnv   string `yaml:"token_env"`
	AuthScheme string `yaml:"auth_scheme"`

	Concurrency       int  `yaml:"concurrency"`
	RequestsPerSecond int  `yaml:"requests_per_second"`
	SharedRateLimit   bool `yaml:"shared_rate_limit"`

	MaxWindowDays int    `yaml:"max_window_days"`
	DateFromParam string `yaml:"date_from_param"`
	DateToParam   string `yaml:"date_to_param"`
	DateLayout    string `yaml:"date_layout"`

	OffsetParam string `yaml:"offset_param"`
	LimitParam  string `yaml:"limit_param"`
	PageSize    int    `yaml:"page_size"`

	Retry RetryConfig  `yaml:"retry"`
	Cache CacheConfig  `yaml:"cache"`
	Quota *QuotaConfig `yaml:"quota"`
}

// RetryConfig mirrors client.Policy.
type RetryConfig struct {
	MaxRetries         int      `yaml:"max_retries"`
	Timeout            Duration `yaml:"timeout"`
	Backoff            Duration `yaml:"backoff"`
	RetryAfterHeader   string   `yaml:"retry_after_header"`
	ProcessingDelay    Duration `yaml:"processing_delay"`
	AttemptCeiling     int      `yaml:"attempt_ceiling"`
	ProcessingStatuses []int    `yaml:"processing_statuses"`
	RetryServerErrors  bool     `yaml:"retry_server_errors"`
}

// CacheConfig controls the Redis page cache.
type CacheConfig struct {
	Enabled bool     `yaml:"enabled"`
	TTL     Duration `yaml:"ttl"`
}

// QuotaConfig enables quota tracking from response headers.
type QuotaConfig struct {
	RemainingHeader string `yaml:"remaining_header"`
	ResetHeader     string `yaml:"reset_header"`
	Critical        int    `yaml:"critical"`
	Warning         int    `yaml:"warning"`
	Healthy         int    `yaml:"healthy"`
}

// DefaultVendor returns the settings applied before a vendor block is decoded.
func DefaultVendor() Vendor {
	policy := client.DefaultPolicy()
	return Vendor{
		Method:            request.MethodGet,
		AuthScheme:        "Bearer",
		Concurrency:       5,
		RequestsPerSecond: 5,
		DateFromParam:     "date1",
		DateToParam:       "date2",
		DateLayout:        time.DateOnly,
		OffsetParam:       "offset",
		LimitParam:        "limit",
		PageSize:          100,
		Retry: RetryConfig{
			MaxRetries:         policy.MaxRetries,
			Timeout:            DurationFrom(policy.Timeout),
			Backoff:            DurationFrom(policy.RetryBackoff),
			RetryAfterHeader:   policy.RetryAfterHeader,
			ProcessingDelay:    DurationFrom(policy.ProcessingDelay),
			AttemptCeiling:     policy.AttemptCeiling,
			ProcessingStatuses: policy.ProcessingStatuses,
			RetryServerErrors:  policy.RetryServerErrors,
		},
		Cache: CacheConfig{TTL: DurationFrom(24 * time.Hour)},
	}
}

// UnmarshalYAML decodes a vendor block on top of DefaultVendor.
func (v *Vendor) UnmarshalYAML(node *yaml.Node) error {
	type plain Vendor
	p := plain(DefaultVendor())
	if err := node.Decode(&p); err != nil {
		return err
	}
	*v = Vendor(p)
	return nil
}

// Load reads, expands and validates a configuration file.
func Load(path string) (*Config, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer fh.Close()

	return LoadFromReader(fh)
}

// LoadFromReader is Load for an already opened source.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(expandEnv(string(raw))))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.applyEnv()
	cfg.normalise()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envRefRE matches ${NAME} references. Bare $NAME and other dollar signs
// are left alone so request bodies and query values keep them.
var envRefRE = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces every ${NAME} with the value of NAME, empty when unset.
func expandEnv(s string) string {
	return envRefRE.ReplaceAllStringFunc(s, func(ref string) string {
		return os.Getenv(ref[2 : len(ref)-1])
	})
}

// applyEnv lets the environment override deployment settings.
func (c *Config) applyEnv() {
	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)
	c.MetricsAddr = getEnv("METRICS_ADDR", c.MetricsAddr)
	c.UserAgent = getEnv("USER_AGENT", c.UserAgent)
	if c.UserAgent == "" {
		c.UserAgent = "bulkfetch/0.1.0"
	}
}

func (c *Config) normalise() {
	for name, v := range c.Vendors {
		v.Name = name
		v.BaseURL = strings.TrimRight(strings.TrimSpace(v.BaseURL), "/")
		v.Method = strings.ToUpper(strings.TrimSpace(v.Method))
		c.Vendors[name] = v
	}
}

// Validate checks every vendor.
func (c Config) Validate() error {
	if len(c.Vendors) == 0 {
		return errors.New("at least one vendor must be configured")
	}
	for _, name := range c.VendorNames() {
		if err := c.Vendors[name].Validate(); err != nil {
			return fmt.Errorf("vendor %s: %w", name, err)
		}
	}
	return nil
}

// VendorNames returns the configured vendor names in sorted order.
func (c Config) VendorNames() []string {
	names := make([]string, 0, len(c.Vendors))
	for name := range c.Vendors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Vendor returns the named vendor.
func (c Config) Vendor(name string) (Vendor, error) {
	v, ok := c.Vendors[name]
	if !ok {
		return Vendor{}, fmt.Errorf("unknown vendor %q (configured: %s)", name, strings.Join(c.VendorNames(), ", "))
	}
	return v, nil
}

// Validate checks the vendor settings.
func (v Vendor) Validate() error {
	u, err := url.Parse(v.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base_url must be an absolute URL (got %q)", v.BaseURL)
	}
	switch v.Method {
	case request.MethodGet, request.MethodPost:
	default:
		return fmt.Errorf("method must be GET or POST (got %q)", v.Method)
	}
	if v.Concurrency < 1 {
		return fmt.Errorf("concurrency must be >= 1 (got %d)", v.Concurrency)
	}
	if v.RequestsPerSecond < 1 {
		return fmt.Errorf("requests_per_second must be >= 1 (got %d)", v.RequestsPerSecond)
	}
	if v.MaxWindowDays < 0 {
		return fmt.Errorf("max_window_days must be >= 0 (got %d)", v.MaxWindowDays)
	}
	if v.PageSize < 1 {
		return fmt.Errorf("page_size must be >= 1 (got %d)", v.PageSize)
	}
	if err := v.Policy().Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	return nil
}

// Policy converts the retry block into a client policy.
func (v Vendor) Policy() client.Policy {
	return client.Policy{
		MaxRetries:         v.Retry.MaxRetries,
		Timeout:            v.Retry.Timeout.Duration,
		RetryBackoff:       v.Retry.Backoff.Duration,
		RetryAfterHeader:   v.Retry.RetryAfterHeader,
		ProcessingDelay:    v.Retry.ProcessingDelay.Duration,
		AttemptCeiling:     v.Retry.AttemptCeiling,
		ProcessingStatuses: append([]int(nil), v.Retry.ProcessingStatuses...),
		RetryServerErrors:  v.Retry.RetryServerErrors,
	}
}

// BatchConfig converts the vendor limits into a batch configuration.
func (v Vendor) BatchConfig() pagination.Config {
	return pagination.Config{
		ConcurrencyCeiling:   v.Concurrency,
		MaxRequestsPerSecond: v.RequestsPerSecond,
		Policy:               v.Policy(),
	}
}

// QuotaOptions converts the quota block into tracker options. ok is false
// when quota tracking is not configured.
func (v Vendor) QuotaOptions() (opts ratelimit.TrackerOptions, ok bool) {
	if v.Quota == nil {
		return ratelimit.TrackerOptions{}, false
	}
	return ratelimit.TrackerOptions{
		Vendor: v.Name,
		Headers: ratelimit.QuotaHeaders{
			Remaining: v.Quota.RemainingHeader,
			Reset:     v.Quota.ResetHeader,
		},
		Thresholds: ratelimit.Thresholds{
			Critical: v.Quota.Critical,
			Warning:  v.Quota.Warning,
			Healthy:  v.Quota.Healthy,
		},
	}, true
}

// Template builds the request spec shared by every page of endpoint. The
// token is read from TokenEnv at call time.
func (v Vendor) Template(endpoint string) (request.Spec, error) {
	header := http.Header{}
	for key, value := range v.Headers {
		header.Set(key, value)
	}
	if v.TokenEnv != "" {
		token := os.Getenv(v.TokenEnv)
		if token == "" {
			return request.Spec{}, fmt.Errorf("environment variable %s is not set", v.TokenEnv)
		}
		header.Set("Authorization", strings.TrimSpace(v.AuthScheme+" "+token))
	}

	query := url.Values{}
	for key, value := range v.Query {
		query.Set(key, value)
	}

	spec := request.Spec{
		Method: v.Method,
		URL:    v.BaseURL + "/" + strings.TrimLeft(endpoint, "/"),
		Header: header,
		Query:  query,
	}
	if v.Body != "" {
		spec.Body = []byte(v.Body)
	}
	if err := spec.Validate(); err != nil {
		return request.Spec{}, err
	}
	return spec, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
