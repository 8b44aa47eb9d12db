package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jo-hoe/reelcaster/internal/common"
)

// Config is the root configuration loaded from YAML.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Publish  PublishConfig  `yaml:"publish"`
	Blob     BlobConfig     `yaml:"blob"`
	Producer ProducerConfig `yaml:"producer"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Notify   NotifyConfig   `yaml:"notify"`
}

// ServerConfig holds HTTP server and runtime settings.
type ServerConfig struct {
	Addr          string        `yaml:"address"`
	ReadTimeout   time.Duration `yaml:"readTimeout"`
	WriteTimeout  time.Duration `yaml:"writeTimeout"`
	IdleTimeout   time.Duration `yaml:"idleTimeout"`
	MaxUploadSize ByteSize      `yaml:"maxUploadSize"` // limit for POST /upload bodies
	StorageDir    string        `yaml:"storageDir"`
	APIKey        string        `yaml:"apiKey"`        // optional static API key header (X-API-Key)
	PublicBaseURL string        `yaml:"publicBaseUrl"` // externally reachable base URL, used by the local blob backend
	ShutdownGrace time.Duration `yaml:"shutdownGrace"` // time to wait for the running task before forced stop
	QueueCapacity int           `yaml:"queueCapacity"`
	LogLevel      string        `yaml:"logLevel"`  // debug|info|warn|error
	LogFormat     string        `yaml:"logFormat"` // auto|text|json
}

// StoreConfig selects where the progress record lives.
type StoreConfig struct {
	Driver       string `yaml:"driver"`       // sqlite|postgres
	DatabasePath string `yaml:"databasePath"` // sqlite file, defaults to storageDir/reelcaster.db
	DSN          string `yaml:"dsn"`          // postgres connection string
	Collection   string `yaml:"collection"`   // table holding progress documents
	Stream       string `yaml:"stream"`       // selector of the record this instance drives
}

// PublishConfig configures the Graph API container lifecycle client.
type PublishConfig struct {
	BaseURL    string        `yaml:"baseUrl"`    // default https://graph.facebook.com
	APIVersion string        `yaml:"apiVersion"` // default v19.0
	Token      string        `yaml:"token"`      // supports env expansion
	PageID     string        `yaml:"pageId"`
	Timeout    time.Duration `yaml:"timeout"`
	Captions   []string      `yaml:"captions"`
}

// BlobConfig selects and configures the remote segment storage.
type BlobConfig struct {
	Backend   string            `yaml:"backend"` // drive|gcs|local
	Extension string            `yaml:"extension"`
	Drive     DriveBlobSettings `yaml:"drive"`
	GCS       GCSBlobSettings   `yaml:"gcs"`
}

// DriveBlobSettings config for Google Drive storage.
type DriveBlobSettings struct {
	CredentialsFile string `yaml:"credentialsFile"`
	ParentFolder    string `yaml:"parentFolder"`
}

// GCSBlobSettings config for Google Cloud Storage.
type GCSBlobSettings struct {
	Bucket          string        `yaml:"bucket"`
	Prefix          string        `yaml:"prefix"`
	CredentialsFile string        `yaml:"credentialsFile"` // optional, falls back to application default credentials
	LinkTTL         time.Duration `yaml:"linkTtl"`
}

// ProducerConfig configures download and splitting of source videos.
type ProducerConfig struct {
	YTDLPBinary    string        `yaml:"ytdlpBinary"`
	FFmpegBinary   string        `yaml:"ffmpegBinary"`
	FFprobeBinary  string        `yaml:"ffprobeBinary"`
	Format         string        `yaml:"format"` // yt-dlp format selector
	WorkDir        string        `yaml:"workDir"`
	PartDuration   time.Duration `yaml:"partDuration"`
	StartSkip      time.Duration `yaml:"startSkip"`
	EndSkip        time.Duration `yaml:"endSkip"`
	Font           string        `yaml:"font"`
	FontSize       int           `yaml:"fontSize"`
	Volume         float64       `yaml:"volume"`
	FPS            int           `yaml:"fps"`
	UploadParallel int           `yaml:"uploadParallel"`
}

// ScheduleConfig holds cron specs (with seconds) for the periodic jobs.
type ScheduleConfig struct {
	Enqueue string `yaml:"enqueue"`
	Publish string `yaml:"publish"`
	Produce string `yaml:"produce"` // empty disables scheduled production
}

// NotifyConfig configures the optional outcome webhook.
type NotifyConfig struct {
	WebhookURL string        `yaml:"webhookUrl"`
	Retries    int           `yaml:"retries"`
	Backoff    time.Duration `yaml:"backoff"`
}

// ByteSize represents a size in bytes that unmarshals from strings like "10Mi", "20MB", "512KiB", "1024".
type ByteSize uint64

// UnmarshalYAML implements yaml unmarshalling for ByteSize.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		str := strings.TrimSpace(value.Value)
		parsed, err := ParseByteSize(str)
		if err != nil {
			return err
		}
		*b = ByteSize(parsed)
		return nil
	}
	return fmt.Errorf("invalid bytesize node kind: %v", value.Kind)
}

var reNumeric = regexp.MustCompile(`^\d+$`)

// ParseByteSize parses a string like "10Mi", "20MB", "512KiB", "1024" into bytes.
// Supports Kubernetes-style quantities for binary units: Ki, Mi, Gi (case-insensitive).
// Also accepts KiB/MiB/GiB and decimal KB/MB/GB, and bare bytes.
func ParseByteSize(s string) (uint64, error) {
	orig := s
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty size")
	}
	if reNumeric.MatchString(s) {
		val, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid size number: %w", err)
		}
		return val, nil
	}

	up := strings.ToUpper(s)

	type unit struct {
		suffix string
		value  uint64
	}
	units := []unit{
		{"KIB", 1024},
		{"MIB", 1024 * 1024},
		{"GIB", 1024 * 1024 * 1024},
		{"KI", 1024},
		{"MI", 1024 * 1024},
		{"GI", 1024 * 1024 * 1024},
		{"KB", 1000},
		{"MB", 1000 * 1000},
		{"GB", 1000 * 1000 * 1000},
		{"B", 1},
	}
	for _, u := range units {
		if strings.HasSuffix(up, u.suffix) {
			num := strings.TrimSpace(s[:len(s)-len(u.suffix)])
			val, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid size number in %q: %w", orig, err)
			}
			return uint64(val * float64(u.value)), nil
		}
	}
	return 0, fmt.Errorf("unknown size suffix in %q", orig)
}

// Load reads YAML config from path, expands environment variables, and validates it.
// If path is empty, it will attempt to read from env var REELCASTER_CONFIG, then default to "config.yaml".
func Load(path string) (*Config, error) {
	if path == "" {
		if env := os.Getenv("REELCASTER_CONFIG"); env != "" {
			path = env
		} else {
			path = "config.yaml"
		}
	}
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath) // #nosec G304 - reading sanitized config file path is expected
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes after environment expansion, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	if cfg.Server.StorageDir != "" {
		if err := os.MkdirAll(cfg.Server.StorageDir, 0o750); err != nil {
			return nil, fmt.Errorf("ensure storage_dir: %w", err)
		}
	}
	if cfg.Store.DatabasePath == "" {
		cfg.Store.DatabasePath = filepath.Join(cfg.Server.StorageDir, common.DatabaseName)
	}
	if cfg.Producer.WorkDir == "" {
		cfg.Producer.WorkDir = cfg.Server.StorageDir
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":10000"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 2 * time.Minute
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 60 * time.Second
	}
	if cfg.Server.MaxUploadSize == 0 {
		cfg.Server.MaxUploadSize = ByteSize(1024 * 1024)
	}
	if cfg.Server.StorageDir == "" {
		cfg.Server.StorageDir = "data"
	}
	if cfg.Server.ShutdownGrace == 0 {
		cfg.Server.ShutdownGrace = 30 * time.Second
	}
	if cfg.Server.QueueCapacity <= 0 {
		cfg.Server.QueueCapacity = common.DefaultQueueCapacity
	}
	if strings.TrimSpace(cfg.Server.LogLevel) == "" {
		cfg.Server.LogLevel = "info"
	}
	if strings.TrimSpace(cfg.Server.LogFormat) == "" {
		cfg.Server.LogFormat = "auto"
	}
	cfg.Server.PublicBaseURL = strings.TrimRight(strings.TrimSpace(cfg.Server.PublicBaseURL), "/")

	// Store defaults
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite"
	}
	if cfg.Store.Collection == "" {
		cfg.Store.Collection = "progress"
	}

	// Publish defaults
	if strings.TrimSpace(cfg.Publish.BaseURL) == "" {
		cfg.Publish.BaseURL = "https://graph.facebook.com"
	}
	if strings.TrimSpace(cfg.Publish.APIVersion) == "" {
		cfg.Publish.APIVersion = "v19.0"
	}
	if cfg.Publish.Timeout == 0 {
		cfg.Publish.Timeout = 60 * time.Second
	}

	// Blob defaults
	if cfg.Blob.Backend == "" {
		cfg.Blob.Backend = "drive"
	}
	cfg.Blob.Extension = strings.ToLower(strings.TrimSpace(cfg.Blob.Extension))
	if cfg.Blob.Extension == "" {
		cfg.Blob.Extension = common.SegmentExtension
	}
	if !strings.HasPrefix(cfg.Blob.Extension, ".") {
		cfg.Blob.Extension = "." + cfg.Blob.Extension
	}
	if cfg.Blob.Drive.CredentialsFile == "" {
		cfg.Blob.Drive.CredentialsFile = "creds.json"
	}
	if cfg.Blob.GCS.LinkTTL == 0 {
		cfg.Blob.GCS.LinkTTL = 6 * time.Hour
	}
	cfg.Blob.GCS.Prefix = normalizePathPrefix(cfg.Blob.GCS.Prefix)

	// Producer defaults mirror the original clip layout: skip 10s, drop the last 20s, 60s parts.
	if cfg.Producer.YTDLPBinary == "" {
		cfg.Producer.YTDLPBinary = "yt-dlp"
	}
	if cfg.Producer.FFmpegBinary == "" {
		cfg.Producer.FFmpegBinary = "ffmpeg"
	}
	if cfg.Producer.FFprobeBinary == "" {
		cfg.Producer.FFprobeBinary = "ffprobe"
	}
	if cfg.Producer.Format == "" {
		cfg.Producer.Format = "18"
	}
	if cfg.Producer.PartDuration == 0 {
		cfg.Producer.PartDuration = 60 * time.Second
	}
	if cfg.Producer.StartSkip == 0 {
		cfg.Producer.StartSkip = 10 * time.Second
	}
	if cfg.Producer.EndSkip == 0 {
		cfg.Producer.EndSkip = 20 * time.Second
	}
	if cfg.Producer.FontSize == 0 {
		cfg.Producer.FontSize = 70
	}
	if cfg.Producer.Volume == 0 {
		cfg.Producer.Volume = 1.25
	}
	if cfg.Producer.FPS == 0 {
		cfg.Producer.FPS = 24
	}
	if cfg.Producer.UploadParallel <= 0 {
		cfg.Producer.UploadParallel = common.DefaultUploadParallel
	}

	// Schedules are offset by ten minutes so the two jobs rarely meet.
	if strings.TrimSpace(cfg.Schedule.Enqueue) == "" {
		cfg.Schedule.Enqueue = "0 30 * * * *"
	}
	if strings.TrimSpace(cfg.Schedule.Publish) == "" {
		cfg.Schedule.Publish = "0 40 * * * *"
	}

	// Notify defaults
	if cfg.Notify.Retries == 0 {
		cfg.Notify.Retries = 3
	}
	if cfg.Notify.Backoff == 0 {
		cfg.Notify.Backoff = 2 * time.Second
	}
}

var reIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Store.Stream) == "" {
		return errors.New("store.stream is required")
	}
	if !reIdentifier.MatchString(cfg.Store.Collection) {
		return fmt.Errorf("store.collection %q must be a plain identifier", cfg.Store.Collection)
	}
	switch cfg.Store.Driver {
	case "sqlite":
	case "postgres":
		if strings.TrimSpace(cfg.Store.DSN) == "" {
			return errors.New("store.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported store.driver %q", cfg.Store.Driver)
	}

	if strings.TrimSpace(cfg.Publish.Token) == "" {
		return errors.New("publish.token is required")
	}
	if strings.TrimSpace(cfg.Publish.PageID) == "" {
		return errors.New("publish.pageId is required")
	}
	if len(cfg.Publish.Captions) == 0 {
		return errors.New("publish.captions needs at least one caption")
	}

	switch cfg.Blob.Backend {
	case "drive":
		if strings.TrimSpace(cfg.Blob.Drive.ParentFolder) == "" {
			return errors.New("blob.drive.parentFolder is required")
		}
	case "gcs":
		if strings.TrimSpace(cfg.Blob.GCS.Bucket) == "" {
			return errors.New("blob.gcs.bucket is required")
		}
	case "local":
		if cfg.Server.PublicBaseURL == "" {
			return errors.New("server.publicBaseUrl is required for the local blob backend")
		}
	default:
		return fmt.Errorf("unsupported blob.backend %q", cfg.Blob.Backend)
	}
	if !common.IsSegmentExtension(cfg.Blob.Extension) {
		return fmt.Errorf("unsupported blob.extension %q, segments are rendered as H.264/AAC (.mp4, .m4v or .mov)", cfg.Blob.Extension)
	}

	if cfg.Producer.PartDuration < time.Second {
		return fmt.Errorf("producer.partDuration must be at least 1s, got %s", cfg.Producer.PartDuration)
	}
	if cfg.Producer.StartSkip < 0 || cfg.Producer.EndSkip < 0 {
		return errors.New("producer skips must not be negative")
	}

	switch strings.ToLower(cfg.Server.LogFormat) {
	case "auto", "text", "json":
	default:
		return fmt.Errorf("unsupported server.logFormat %q", cfg.Server.LogFormat)
	}
	return nil
}

func normalizePathPrefix(p string) string {
	if p == "" {
		return p
	}
	p = strings.ReplaceAll(p, "\\", "/")
	if !strings.HasSuffix(p, "/") {
		p = p + "/"
	}
	p = strings.TrimPrefix(p, "./")
	return p
}
