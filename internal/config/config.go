// Package config loads and validates harvester configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/JakeFAU/newscorpus/internal/harvest"
)

// EnvPrefix namespaces environment overrides, e.g. NEWSCORPUS_STORE_PATH.
const EnvPrefix = "NEWSCORPUS"

// Config captures every knob of the harvester. It is loaded once and passed
// by value into constructors.
type Config struct {
	Feeds   map[string]string `mapstructure:"feeds" validate:"required,min=1,dive,keys,required,endkeys,url"`
	Quotas  map[string]Quota  `mapstructure:"quotas" validate:"required,min=1,dive"`
	HTTP    HTTPConfig        `mapstructure:"http"`
	Crawl   CrawlConfig       `mapstructure:"crawl"`
	Feed    FeedConfig        `mapstructure:"feed"`
	Output  OutputConfig      `mapstructure:"output"`
	Store   StoreConfig       `mapstructure:"store"`
	Extract ExtractConfig     `mapstructure:"extract"`
	Logging LoggingConfig     `mapstructure:"logging"`
	Metrics MetricsConfig     `mapstructure:"metrics"`
	Notify  NotifyConfig      `mapstructure:"notify"`
}

// Quota is the per-category sample target.
type Quota struct {
	Train int `mapstructure:"train" validate:"gte=0"`
	Test  int `mapstructure:"test" validate:"gte=0"`
}

// HTTPConfig configures the shared transport and the retry loop.
type HTTPConfig struct {
	Timeout       time.Duration     `mapstructure:"timeout" validate:"gt=0"`
	MaxRetries    int               `mapstructure:"max_retries" validate:"gte=1"`
	RetryDelay    time.Duration     `mapstructure:"retry_delay" validate:"gte=0"`
	RespectRobots bool              `mapstructure:"respect_robots"`
	RatePerHost   float64           `mapstructure:"rate_per_host" validate:"gte=0"` // requests/s per host, 0 disables
	RateBurst     int               `mapstructure:"rate_burst" validate:"gte=0"`
	Headers       map[string]string `mapstructure:"headers"`
	// Renderer selects the transport: colly (plain HTTP) or chromedp
	// (headless Chrome, for script-built pages).
	Renderer     string        `mapstructure:"renderer" validate:"omitempty,oneof=colly chromedp"`
	RenderSettle time.Duration `mapstructure:"render_settle" validate:"gte=0"`
	ChromePath   string        `mapstructure:"chrome_path"`
}

// CrawlConfig tunes the allocator.
type CrawlConfig struct {
	Delay            time.Duration `mapstructure:"delay" validate:"gte=0"`
	Jitter           time.Duration `mapstructure:"jitter" validate:"gte=0"`
	OversampleFactor int           `mapstructure:"oversample_factor" validate:"gte=1"`
	ResumeFromOutput bool          `mapstructure:"resume_from_output"`
}

// FeedConfig tunes the ingestor.
type FeedConfig struct {
	Delay time.Duration `mapstructure:"delay" validate:"gte=0"`
}

// OutputConfig selects and configures the corpus writer.
type OutputConfig struct {
	Backend   string `mapstructure:"backend" validate:"oneof=local gcs"`
	Root      string `mapstructure:"root"`
	Width     int    `mapstructure:"width" validate:"gte=1,lte=9"`
	Ext       string `mapstructure:"ext" validate:"required,alphanum"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// StoreConfig selects the record store backend.
type StoreConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=sqlite postgres memory"`
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
}

// ExtractConfig holds the CSS selectors of the default extractor.
type ExtractConfig struct {
	Title             []string `mapstructure:"title"`
	Sapo              []string `mapstructure:"sapo"`
	Body              []string `mapstructure:"body"`
	Paragraph         string   `mapstructure:"paragraph"`
	MinParagraphRunes int      `mapstructure:"min_paragraph_runes" validate:"gte=0"`
}

// LoggingConfig toggles zap development features and verbosity.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
}

// MetricsConfig enables the optional Prometheus endpoint.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// NotifyConfig enables accepted-item events on a Pub/Sub topic. Both names
// empty disables publishing.
type NotifyConfig struct {
	PubSubProject string `mapstructure:"pubsub_project"`
	PubSubTopic   string `mapstructure:"pubsub_topic"`
}

// Enabled reports whether a topic is configured.
func (n NotifyConfig) Enabled() bool {
	return n.PubSubProject != "" || n.PubSubTopic != ""
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.HTTP.Headers = canonicalHeaders(cfg.HTTP.Headers)
	// Viper merges map defaults into file maps key by key, so the stock
	// categories apply only when none are configured.
	if len(cfg.Feeds) == 0 {
		cfg.Feeds = DefaultFeeds()
	}
	if len(cfg.Quotas) == 0 {
		cfg.Quotas = DefaultQuotas()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.retry_delay", time.Second)
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("http.rate_per_host", 0)
	v.SetDefault("http.rate_burst", 1)
	v.SetDefault("http.renderer", "colly")
	v.SetDefault("http.render_settle", 500*time.Millisecond)
	v.SetDefault("http.chrome_path", "")
	v.SetDefault("http.headers", map[string]string{
		"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": "vi-VN,vi;q=0.9,en-US;q=0.8,en;q=0.7",
	})
	v.SetDefault("crawl.delay", time.Second)
	v.SetDefault("crawl.jitter", 500*time.Millisecond)
	v.SetDefault("crawl.oversample_factor", 2)
	v.SetDefault("crawl.resume_from_output", true)
	v.SetDefault("feed.delay", time.Second)
	v.SetDefault("output.backend", "local")
	v.SetDefault("output.root", "thanhnien")
	v.SetDefault("output.width", 4)
	v.SetDefault("output.ext", "txt")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "thanhnien_urls.db")
	v.SetDefault("store.dsn", "")
	v.SetDefault("output.gcs_bucket", "")
	v.SetDefault("output.gcs_prefix", "")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("notify.pubsub_project", "")
	v.SetDefault("notify.pubsub_topic", "")
	v.SetDefault("extract.title", []string{"h1.detail-title span[data-role=title]", "h1.detail-title"})
	v.SetDefault("extract.sapo", []string{"h2.detail-sapo", "div.detail-sapo"})
	v.SetDefault("extract.body", []string{"div.detail-content", "#main-detail-content"})
	v.SetDefault("extract.paragraph", "p")
	v.SetDefault("extract.min_paragraph_runes", 20)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// DefaultFeeds returns the stock category feeds.
func DefaultFeeds() map[string]string {
	return map[string]string{
		"thoisu":   "https://thanhnien.vn/rss/thoi-su.rss",
		"kinhte":   "https://thanhnien.vn/rss/kinh-te.rss",
		"congnghe": "https://thanhnien.vn/rss/cong-nghe.rss",
	}
}

// DefaultQuotas returns the stock per-category quotas.
func DefaultQuotas() map[string]Quota {
	return map[string]Quota{
		"thoisu":   {Train: 800, Test: 200},
		"kinhte":   {Train: 800, Test: 200},
		"congnghe": {Train: 200, Test: 50},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	for category := range c.Quotas {
		if _, ok := c.Feeds[category]; !ok {
			return fmt.Errorf("quotas.%s has no matching feed", category)
		}
	}
	switch c.Store.Driver {
	case "sqlite":
		if strings.TrimSpace(c.Store.Path) == "" {
			return fmt.Errorf("store.path must be set for the sqlite driver")
		}
	case "postgres":
		if strings.TrimSpace(c.Store.DSN) == "" {
			return fmt.Errorf("store.dsn must be set for the postgres driver")
		}
	}
	switch c.Output.Backend {
	case "local":
		if strings.TrimSpace(c.Output.Root) == "" {
			return fmt.Errorf("output.root must be set for the local backend")
		}
	case "gcs":
		if strings.TrimSpace(c.Output.GCSBucket) == "" {
			return fmt.Errorf("output.gcs_bucket must be set for the gcs backend")
		}
	}
	if c.HTTP.Renderer == "chromedp" && c.HTTP.RespectRobots {
		return fmt.Errorf("http.respect_robots is not supported by the chromedp renderer")
	}
	if c.Notify.Enabled() && (c.Notify.PubSubProject == "" || c.Notify.PubSubTopic == "") {
		return fmt.Errorf("notify.pubsub_project and notify.pubsub_topic must be set together")
	}
	return nil
}

// Categories returns the configured feed categories sorted by name so runs
// are deterministic.
func (c Config) Categories() []harvest.Category {
	out := make([]harvest.Category, 0, len(c.Feeds))
	for name := range c.Feeds {
		out = append(out, harvest.Category(name))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// QuotaFor returns the quota of category; categories without one get zero.
func (c Config) QuotaFor(category harvest.Category) harvest.Quota {
	q := c.Quotas[string(category)]
	return harvest.Quota{Train: q.Train, Test: q.Test}
}

// HeaderSet converts the configured headers into an http.Header.
func (c Config) HeaderSet() http.Header {
	h := make(http.Header, len(c.HTTP.Headers))
	for k, v := range c.HTTP.Headers {
		h.Set(k, v)
	}
	return h
}

// Viper lowercases map keys; header names are restored to canonical form.
func canonicalHeaders(in map[string]string) map[string]string {
	if len(in) == 0 {
		return in
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[http.CanonicalHeaderKey(k)] = v
	}
	return out
}
