package quill

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gookit/validate"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// SiteConfig holds all configuration for a quill server.
type SiteConfig struct {
	Addr string `mapstructure:"addr" validate:"required"` // Listen address (default ":5000")

	BlogDir         string   `mapstructure:"blog_dir" validate:"required"` // Post documents (default "data/blogs")
	ImageBackend    string   `mapstructure:"image_backend" validate:"required|in:local,s3"`
	ImagesDir       string   `mapstructure:"images_dir"`                            // Local image directory (default "static/images/blogs")
	ImagesURLPrefix string   `mapstructure:"images_url_prefix" validate:"required"` // Path prefix of stored image refs
	S3              S3Config `mapstructure:"s3"`

	AnalyticsDatabasePath string `mapstructure:"analytics_database_path" validate:"required"` // SQLite path (default "data/analytics.db")
	AnalyticsQueueSize    int    `mapstructure:"analytics_queue_size"`                        // Pending page views before dropping (default 1024)

	SessionSecret string `mapstructure:"session_secret" validate:"required"` // Required: visitor cookie signing key
	CookieSecure  bool   `mapstructure:"cookie_secure"`                      // Set true for HTTPS

	WriteRateLimit int `mapstructure:"write_rate_limit"` // Post writes per IP per minute (default 60, negative disables)

	PostCacheSizeMB int           `mapstructure:"post_cache_size_mb"` // 0 disables the post cache
	PostCacheTTL    time.Duration `mapstructure:"post_cache_ttl"`     // Post cache TTL (default 5min)

	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	LogLevel       string `mapstructure:"log_level" validate:"in:debug,info,warn,error"`
	LogDevelopment bool   `mapstructure:"log_development"`
}

// S3Config locates the bucket used by the s3 image backend.
type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Prefix          string `mapstructure:"prefix"`
}

// dataRoot is where default data paths live. Serverless hosts such as
// Vercel only allow writes under /tmp.
func dataRoot() string {
	if os.Getenv("VERCEL") != "" {
		return "/tmp"
	}
	return "data"
}

func defaultImagesDir() string {
	if os.Getenv("VERCEL") != "" {
		return filepath.Join(dataRoot(), "static", "images", "blogs")
	}
	return filepath.Join("static", "images", "blogs")
}

func (c *SiteConfig) setDefaults() {
	if c.Addr == "" {
		c.Addr = ":5000"
	}
	if c.BlogDir == "" {
		c.BlogDir = filepath.Join(dataRoot(), "blogs")
	}
	if c.ImageBackend == "" {
		c.ImageBackend = "local"
	}
	if c.ImagesDir == "" {
		c.ImagesDir = defaultImagesDir()
	}
	if c.ImagesURLPrefix == "" {
		c.ImagesURLPrefix = "static/images/blogs"
	}
	if c.AnalyticsDatabasePath == "" {
		c.AnalyticsDatabasePath = filepath.Join(dataRoot(), "analytics.db")
	}
	if c.AnalyticsQueueSize == 0 {
		c.AnalyticsQueueSize = 1024
	}
	if c.WriteRateLimit == 0 {
		c.WriteRateLimit = 60
	}
	if c.PostCacheTTL == 0 {
		c.PostCacheTTL = 5 * time.Minute
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks required fields and backend-specific settings.
func (c *SiteConfig) Validate() error {
	v := validate.Struct(c)
	if !v.Validate() {
		return fmt.Errorf("quill: invalid config: %s", v.Errors.One())
	}
	if c.ImageBackend == "s3" && (c.S3.Bucket == "" || c.S3.Region == "") {
		return errors.New("quill: s3.bucket and s3.region are required when image_backend is s3")
	}
	return nil
}

// LoadConfig reads configuration from an optional YAML file at path and from
// QUILL_* environment variables (e.g. QUILL_SESSION_SECRET, QUILL_S3_BUCKET),
// which take precedence.
func LoadConfig(path string) (SiteConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("QUILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var defaults SiteConfig
	defaults.setDefaults()
	v.SetDefault("addr", defaults.Addr)
	v.SetDefault("blog_dir", defaults.BlogDir)
	v.SetDefault("image_backend", defaults.ImageBackend)
	v.SetDefault("images_dir", defaults.ImagesDir)
	v.SetDefault("images_url_prefix", defaults.ImagesURLPrefix)
	v.SetDefault("analytics_database_path", defaults.AnalyticsDatabasePath)
	v.SetDefault("analytics_queue_size", defaults.AnalyticsQueueSize)
	v.SetDefault("session_secret", "")
	v.SetDefault("cookie_secure", false)
	v.SetDefault("write_rate_limit", defaults.WriteRateLimit)
	v.SetDefault("post_cache_size_mb", 64)
	v.SetDefault("post_cache_ttl", defaults.PostCacheTTL)
	v.SetDefault("metrics_enabled", true)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("log_development", false)
	for _, key := range []string{"endpoint", "region", "bucket", "access_key_id", "secret_access_key", "prefix"} {
		v.SetDefault("s3."+key, "")
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return SiteConfig{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg SiteConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return SiteConfig{}, fmt.Errorf("unable to decode into config struct: %w", err)
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return SiteConfig{}, err
	}
	return cfg, nil
}

// Option configures additional App behavior.
type Option func(*App)

// WithCustomRoutes registers additional routes on the Echo instance.
// The callback runs after the built-in routes are mounted.
func WithCustomRoutes(fn func(*App)) Option {
	return func(a *App) {
		a.customRoutes = append(a.customRoutes, fn)
	}
}

// WithLogger replaces the logger built from LogLevel.
func WithLogger(l *zap.Logger) Option {
	return func(a *App) {
		a.Log = l
	}
}

// WithImageBackend replaces the backend selected by ImageBackend.
func WithImageBackend(b ImageBackend) Option {
	return func(a *App) {
		a.imageBackend = b
	}
}
