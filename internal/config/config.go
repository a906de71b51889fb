package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"driftpursuit/worldclient/internal/wire"
)

const (
	// DefaultProtocolVersion is advertised in the handshake when no override is supplied.
	DefaultProtocolVersion = 3
	// DefaultClientMetadata identifies this client build to the server.
	DefaultClientMetadata = "worldclient/1"

	// DefaultConnectTimeout bounds a single dial attempt.
	DefaultConnectTimeout = 5 * time.Second
	// DefaultRetryBackoff is the fixed wait before a retryable failure reconnects.
	DefaultRetryBackoff = 3 * time.Second
	// DefaultMaxRetries of zero retries forever.
	DefaultMaxRetries = 0
	// DefaultWriteTimeout bounds how long one step may spend flushing outbound bytes.
	DefaultWriteTimeout = 2 * time.Millisecond

	// DefaultSimHz is the simulation clock frequency driving session steps.
	DefaultSimHz = 20.0

	// DefaultInputBufferBytes sizes the inbound accumulator.
	DefaultInputBufferBytes = 64 << 10
	// DefaultTickQueueCapacity bounds how far prediction may run ahead.
	DefaultTickQueueCapacity = 8
	// DefaultMaxTickBytes bounds a decoded tick.
	DefaultMaxTickBytes = 256 << 10
	// DefaultMaxOpcodesPerTick is the interpreter corruption guard.
	DefaultMaxOpcodesPerTick = 16384

	// DefaultSendBufferBytes caps queued outbound bytes.
	DefaultSendBufferBytes = 16 << 10
	// DefaultSendRate of zero leaves outbound flushing unthrottled.
	DefaultSendRate = 0.0

	// DefaultCaptureMaxBundles caps retained capture bundles.
	DefaultCaptureMaxBundles = 20
	// DefaultCaptureMaxAge removes capture bundles older than this.
	DefaultCaptureMaxAge = 72 * time.Hour

	// DefaultInspectInterval paces the inspection watch stream.
	DefaultInspectInterval = time.Second

	// DefaultLogLevel controls verbosity for client logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "worldclient.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true
)

// Config captures all runtime tunables for the client.
type Config struct {
	Address         string
	Identity        string
	Token           string
	TokenSecret     string
	TokenTTL        time.Duration
	ProtocolVersion uint16
	ClientMetadata  string

	ConnectTimeout time.Duration
	RetryBackoff   time.Duration
	MaxRetries     int
	WriteTimeout   time.Duration

	SimHz float64

	InputBufferBytes  int
	TickQueueCapacity int
	MaxTickBytes      int
	MaxOpcodesPerTick int

	SendBufferBytes int
	SendRate        float64

	Prediction PredictionConfig

	// AreaRoutes maps area ids to the server hosting them. An area change to a
	// routed area hands the session over to that address.
	AreaRoutes map[uint16]string

	CaptureDir        string
	CaptureMaxBundles int
	CaptureMaxAge     time.Duration

	InspectAddr     string
	InspectSecret   string
	InspectInterval time.Duration

	Logging LoggingConfig
}

// PredictionConfig gates which message classes the predictive path applies to the shadow state.
type PredictionConfig struct {
	Position  bool
	Animation bool
	Inventory bool
	Stats     bool
	Effects   bool
	Visual    bool
}

// DefaultPrediction predicts the classes that follow directly from local input:
// position, animation and inventory.
func DefaultPrediction() PredictionConfig {
	return PredictionConfig{Position: true, Animation: true, Inventory: true}
}

// FullPrediction predicts every class, so the shadow matches the canonical
// state once the look-ahead queue is drained.
func FullPrediction() PredictionConfig {
	return PredictionConfig{Position: true, Animation: true, Inventory: true, Stats: true, Effects: true, Visual: true}
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Default returns the configuration used when no overrides are present.
func Default() *Config {
	return &Config{
		ProtocolVersion:   DefaultProtocolVersion,
		ClientMetadata:    DefaultClientMetadata,
		TokenTTL:          time.Minute,
		ConnectTimeout:    DefaultConnectTimeout,
		RetryBackoff:      DefaultRetryBackoff,
		MaxRetries:        DefaultMaxRetries,
		WriteTimeout:      DefaultWriteTimeout,
		SimHz:             DefaultSimHz,
		InputBufferBytes:  DefaultInputBufferBytes,
		TickQueueCapacity: DefaultTickQueueCapacity,
		MaxTickBytes:      DefaultMaxTickBytes,
		MaxOpcodesPerTick: DefaultMaxOpcodesPerTick,
		SendBufferBytes:   DefaultSendBufferBytes,
		SendRate:          DefaultSendRate,
		Prediction:        DefaultPrediction(),
		CaptureMaxBundles: DefaultCaptureMaxBundles,
		CaptureMaxAge:     DefaultCaptureMaxAge,
		InspectInterval:   DefaultInspectInterval,
		Logging: LoggingConfig{
			Level:      DefaultLogLevel,
			Path:       DefaultLogPath,
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
	}
}

// Load reads the client configuration: defaults, then the optional YAML file named by
// CLIENT_CONFIG_FILE, then CLIENT_* environment variables. Every invalid override is
// reported in a single error.
func Load() (*Config, error) {
	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("CLIENT_CONFIG_FILE")); path != "" {
		file, err := ReadFile(path)
		if err != nil {
			return nil, err
		}
		file.Apply(cfg)
	}

	var problems []string

	setString(&cfg.Address, "CLIENT_ADDR")
	setString(&cfg.Identity, "CLIENT_IDENTITY")
	setString(&cfg.Token, "CLIENT_TOKEN")
	setString(&cfg.TokenSecret, "CLIENT_TOKEN_SECRET")
	setString(&cfg.ClientMetadata, "CLIENT_METADATA")
	setString(&cfg.CaptureDir, "CLIENT_CAPTURE_DIR")
	setString(&cfg.InspectAddr, "CLIENT_INSPECT_ADDR")
	setString(&cfg.InspectSecret, "CLIENT_INSPECT_SECRET")
	setString(&cfg.Logging.Level, "CLIENT_LOG_LEVEL")
	setString(&cfg.Logging.Path, "CLIENT_LOG_PATH")

	if raw := strings.TrimSpace(os.Getenv("CLIENT_PROTOCOL_VERSION")); raw != "" {
		value, err := strconv.ParseUint(raw, 10, 16)
		if err != nil || value == 0 {
			problems = append(problems, fmt.Sprintf("CLIENT_PROTOCOL_VERSION must be an integer in 1..65535, got %q", raw))
		} else {
			cfg.ProtocolVersion = uint16(value)
		}
	}

	problems = parseDuration(problems, &cfg.TokenTTL, "CLIENT_TOKEN_TTL")
	problems = parseDuration(problems, &cfg.ConnectTimeout, "CLIENT_CONNECT_TIMEOUT")
	problems = parseDuration(problems, &cfg.RetryBackoff, "CLIENT_RETRY_BACKOFF")
	problems = parseDuration(problems, &cfg.WriteTimeout, "CLIENT_WRITE_TIMEOUT")
	problems = parseDuration(problems, &cfg.InspectInterval, "CLIENT_INSPECT_INTERVAL")
	problems = parseDuration(problems, &cfg.CaptureMaxAge, "CLIENT_CAPTURE_MAX_AGE")

	problems = parseInt(problems, &cfg.MaxRetries, "CLIENT_MAX_RETRIES", true)
	problems = parseInt(problems, &cfg.InputBufferBytes, "CLIENT_INPUT_BUFFER_BYTES", false)
	problems = parseInt(problems, &cfg.TickQueueCapacity, "CLIENT_TICK_QUEUE_CAPACITY", false)
	problems = parseInt(problems, &cfg.MaxTickBytes, "CLIENT_MAX_TICK_BYTES", false)
	problems = parseInt(problems, &cfg.MaxOpcodesPerTick, "CLIENT_MAX_OPCODES_PER_TICK", false)
	problems = parseInt(problems, &cfg.SendBufferBytes, "CLIENT_SEND_BUFFER_BYTES", false)
	problems = parseInt(problems, &cfg.CaptureMaxBundles, "CLIENT_CAPTURE_MAX_BUNDLES", true)
	problems = parseInt(problems, &cfg.Logging.MaxSizeMB, "CLIENT_LOG_MAX_SIZE_MB", false)
	problems = parseInt(problems, &cfg.Logging.MaxBackups, "CLIENT_LOG_MAX_BACKUPS", true)
	problems = parseInt(problems, &cfg.Logging.MaxAgeDays, "CLIENT_LOG_MAX_AGE_DAYS", true)

	if raw := strings.TrimSpace(os.Getenv("CLIENT_SIM_HZ")); raw != "" {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("CLIENT_SIM_HZ must be a positive number, got %q", raw))
		} else {
			cfg.SimHz = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CLIENT_SEND_RATE")); raw != "" {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("CLIENT_SEND_RATE must be a non-negative number, got %q", raw))
		} else {
			cfg.SendRate = value
		}
	}

	problems = parseRoutes(problems, cfg, "CLIENT_AREA_ROUTES")

	problems = parseBool(problems, &cfg.Logging.Compress, "CLIENT_LOG_COMPRESS")
	problems = parseBool(problems, &cfg.Prediction.Position, "CLIENT_PREDICT_POSITION")
	problems = parseBool(problems, &cfg.Prediction.Animation, "CLIENT_PREDICT_ANIMATION")
	problems = parseBool(problems, &cfg.Prediction.Inventory, "CLIENT_PREDICT_INVENTORY")
	problems = parseBool(problems, &cfg.Prediction.Stats, "CLIENT_PREDICT_STATS")
	problems = parseBool(problems, &cfg.Prediction.Effects, "CLIENT_PREDICT_EFFECTS")
	problems = parseBool(problems, &cfg.Prediction.Visual, "CLIENT_PREDICT_VISUAL")

	if cfg.InputBufferBytes < wire.MaxFrameLength {
		problems = append(problems, fmt.Sprintf("CLIENT_INPUT_BUFFER_BYTES must be at least %d to hold the largest frame, got %d", wire.MaxFrameLength, cfg.InputBufferBytes))
	}

	if strings.TrimSpace(cfg.InspectAddr) != "" && strings.TrimSpace(cfg.InspectSecret) == "" {
		problems = append(problems, "CLIENT_INSPECT_SECRET is required when CLIENT_INSPECT_ADDR is set")
	}

	if len(problems) > 0 {
		return nil, errors.New(strings.Join(problems, "; "))
	}

	return cfg, nil
}

func setString(dst *string, key string) {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		*dst = value
	}
}

func parseDuration(problems []string, dst *time.Duration, key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return problems
	}
	duration, err := time.ParseDuration(raw)
	if err != nil || duration <= 0 {
		return append(problems, fmt.Sprintf("%s must be a positive duration, got %q", key, raw))
	}
	*dst = duration
	return problems
}

func parseInt(problems []string, dst *int, key string, allowZero bool) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return problems
	}
	value, err := strconv.Atoi(raw)
	switch {
	case err != nil || value < 0:
		return append(problems, fmt.Sprintf("%s must be a non-negative integer, got %q", key, raw))
	case value == 0 && !allowZero:
		return append(problems, fmt.Sprintf("%s must be a positive integer, got %q", key, raw))
	}
	*dst = value
	return problems
}

// parseRoutes reads "area=address" pairs separated by commas.
func parseRoutes(problems []string, cfg *Config, key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return problems
	}
	routes := make(map[uint16]string)
	for _, pair := range strings.Split(raw, ",") {
		area, address, ok := strings.Cut(strings.TrimSpace(pair), "=")
		id, err := strconv.ParseUint(strings.TrimSpace(area), 10, 16)
		address = strings.TrimSpace(address)
		if !ok || err != nil || address == "" {
			return append(problems, fmt.Sprintf("%s must be a comma separated list of area=address pairs, got %q", key, pair))
		}
		routes[uint16(id)] = address
	}
	cfg.AreaRoutes = routes
	return problems
}

func parseBool(problems []string, dst *bool, key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return problems
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return append(problems, fmt.Sprintf("%s must be a boolean value, got %q", key, raw))
	}
	*dst = value
	return problems
}
