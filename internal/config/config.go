package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Server
	Port string `yaml:"port"`

	// Storage
	DatabasePath string `yaml:"database_path"`
	StorageDir   string `yaml:"storage_dir"`

	// Secrets
	InternalSharedSecret string `yaml:"internal_shared_secret"`
	MistralAPIKey        string `yaml:"mistral_api_key"`

	// Sessions
	SessionActiveTTL time.Duration `yaml:"session_active_ttl"`
	SessionIdleTTL   time.Duration `yaml:"session_idle_ttl"`
	SecureCookies    bool          `yaml:"secure_cookies"`

	// Limits
	MaxJSONBodyBytes int64 `yaml:"max_json_body_bytes"`
	MaxPDFBytes      int64 `yaml:"max_pdf_bytes"`
	MaxAvatarBytes   int64 `yaml:"max_avatar_bytes"`

	// Concurrency
	MaxConcurrentRequests int64 `yaml:"max_concurrent_requests"`
	MaxConcurrentScans    int64 `yaml:"max_concurrent_scans"`
	MaxPageWorkers        int   `yaml:"max_page_workers"` // per-document page extraction workers cap

	// Server timeouts
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`

	// Request timeouts
	ScanTimeout time.Duration `yaml:"scan_timeout"`

	// Poppler timeouts
	PDFInfoTimeout   time.Duration `yaml:"pdfinfo_timeout"`
	PDFToTextTimeout time.Duration `yaml:"pdftotext_timeout"`

	// rate limiting (per IP)
	RateLimitEvery time.Duration `yaml:"rate_limit_every"`
	RateLimitBurst int           `yaml:"rate_limit_burst"`

	// housekeeping
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// health
	HealthDegradeRatio float64 `yaml:"health_degrade_ratio"`

	// http
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// Scanning
	MinWordsThreshold int           `yaml:"min_words_threshold"`
	PageSeparator     string        `yaml:"page_separator"`
	OCRTriggerRatio   float64       `yaml:"ocr_trigger_ratio"` // share of pages that must fail before OCR runs
	OCRModel          string        `yaml:"ocr_model"`
	OCRTimeout        time.Duration `yaml:"ocr_timeout"`
}

func Defaults() Config {
	return Config{
		Port: "8080",

		DatabasePath: "flossstock.db",
		StorageDir:   "data",

		SessionActiveTTL: 7 * 24 * time.Hour,
		SessionIdleTTL:   30 * 24 * time.Hour,
		SecureCookies:    true,

		MaxJSONBodyBytes: 2 << 20,
		MaxPDFBytes:      50 << 20,
		MaxAvatarBytes:   2 << 20,

		MaxConcurrentRequests: 32,
		MaxConcurrentScans:    4,
		MaxPageWorkers:        8,

		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,

		ScanTimeout: 90 * time.Second,

		PDFInfoTimeout:   5 * time.Second,
		PDFToTextTimeout: 10 * time.Second,

		RateLimitEvery: 200 * time.Millisecond,
		RateLimitBurst: 40,

		CleanupInterval: 5 * time.Minute,

		HealthDegradeRatio: 0.9,

		MaxHeaderBytes: 1 << 20,

		MinWordsThreshold: 3,
		PageSeparator:     "\n\n",
		OCRTriggerRatio:   1.0,
		OCRModel:          "mistral-ocr-latest",
		OCRTimeout:        60 * time.Second,
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// the environment, in that order of increasing precedence.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		path = envStr("CONFIG_FILE", "")
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Port = envStr("PORT", c.Port)

	c.DatabasePath = envStr("DATABASE_PATH", c.DatabasePath)
	c.StorageDir = envStr("STORAGE_DIR", c.StorageDir)

	c.InternalSharedSecret = envStr("INTERNAL_SHARED_SECRET", c.InternalSharedSecret)
	c.MistralAPIKey = envStr("MISTRAL_API_KEY", c.MistralAPIKey)

	c.SessionActiveTTL = envDur("SESSION_ACTIVE_TTL", c.SessionActiveTTL)
	c.SessionIdleTTL = envDur("SESSION_IDLE_TTL", c.SessionIdleTTL)
	c.SecureCookies = envBool("SECURE_COOKIES", c.SecureCookies)

	c.MaxJSONBodyBytes = int64(envInt("MAX_JSON_BODY_BYTES", int(c.MaxJSONBodyBytes)))
	c.MaxPDFBytes = int64(envInt("MAX_PDF_BYTES", int(c.MaxPDFBytes)))
	c.MaxAvatarBytes = int64(envInt("MAX_AVATAR_BYTES", int(c.MaxAvatarBytes)))

	c.MaxConcurrentRequests = int64(envInt("MAX_CONCURRENT_REQUESTS", int(c.MaxConcurrentRequests)))
	c.MaxConcurrentScans = int64(envInt("MAX_CONCURRENT_SCANS", int(c.MaxConcurrentScans)))
	c.MaxPageWorkers = envInt("MAX_PAGE_WORKERS", c.MaxPageWorkers)

	c.ReadHeaderTimeout = envDur("READ_HEADER_TIMEOUT", c.ReadHeaderTimeout)
	c.ReadTimeout = envDur("READ_TIMEOUT", c.ReadTimeout)
	c.WriteTimeout = envDur("WRITE_TIMEOUT", c.WriteTimeout)
	c.IdleTimeout = envDur("IDLE_TIMEOUT", c.IdleTimeout)

	c.ScanTimeout = envDur("SCAN_TIMEOUT", c.ScanTimeout)

	c.PDFInfoTimeout = envDur("PDFINFO_TIMEOUT", c.PDFInfoTimeout)
	c.PDFToTextTimeout = envDur("PDFTOTEXT_TIMEOUT", c.PDFToTextTimeout)

	c.RateLimitEvery = envDur("RATE_LIMIT_EVERY", c.RateLimitEvery)
	c.RateLimitBurst = envInt("RATE_LIMIT_BURST", c.RateLimitBurst)

	c.CleanupInterval = envDur("CLEANUP_INTERVAL", c.CleanupInterval)

	c.HealthDegradeRatio = envFloat("HEALTH_DEGRADE_RATIO", c.HealthDegradeRatio)

	c.MaxHeaderBytes = envInt("MAX_HEADER_BYTES", c.MaxHeaderBytes)

	c.MinWordsThreshold = envInt("MIN_WORDS_THRESHOLD", c.MinWordsThreshold)
	c.PageSeparator = envStr("PAGE_SEPARATOR", c.PageSeparator)
	c.OCRTriggerRatio = envFloat("OCR_TRIGGER_RATIO", c.OCRTriggerRatio)
	c.OCRModel = envStr("OCR_MODEL", c.OCRModel)
	c.OCRTimeout = envDur("OCR_TIMEOUT", c.OCRTimeout)
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("DATABASE_PATH must be set")
	}
	if strings.TrimSpace(c.StorageDir) == "" {
		return fmt.Errorf("STORAGE_DIR must be set")
	}
	if s := strings.TrimSpace(c.InternalSharedSecret); s != "" && len(s) < 32 {
		return fmt.Errorf("INTERNAL_SHARED_SECRET must be at least 32 characters")
	}
	if c.SessionIdleTTL < c.SessionActiveTTL {
		return fmt.Errorf("SESSION_IDLE_TTL must not be shorter than SESSION_ACTIVE_TTL")
	}
	return nil
}

func envStr(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return fallback
	}
	return f
}

func envDur(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
