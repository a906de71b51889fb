package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"time"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"
)

// FileConfig is the optional YAML overlay. Unset fields keep their defaults.
type FileConfig struct {
	Address         string            `yaml:"address" json:"address,omitempty" jsonschema:"description=Server address (host:port or ws:// URL)"`
	Identity        string            `yaml:"identity" json:"identity,omitempty" jsonschema:"description=Account identity sent in the handshake"`
	ProtocolVersion uint16            `yaml:"protocol_version" json:"protocol_version,omitempty" jsonschema:"minimum=1"`
	ClientMetadata  string            `yaml:"client_metadata" json:"client_metadata,omitempty"`
	ConnectTimeout  string            `yaml:"connect_timeout" json:"connect_timeout,omitempty" jsonschema:"description=Go duration string"`
	RetryBackoff    string            `yaml:"retry_backoff" json:"retry_backoff,omitempty" jsonschema:"description=Go duration string"`
	MaxRetries      *int              `yaml:"max_retries" json:"max_retries,omitempty" jsonschema:"minimum=0"`
	SimHz           float64           `yaml:"sim_hz" json:"sim_hz,omitempty"`
	TickQueue       int               `yaml:"tick_queue_capacity" json:"tick_queue_capacity,omitempty" jsonschema:"minimum=1"`
	CaptureDir      string            `yaml:"capture_dir" json:"capture_dir,omitempty"`
	CaptureKeep     *int              `yaml:"capture_max_bundles" json:"capture_max_bundles,omitempty" jsonschema:"minimum=0"`
	InspectAddr     string            `yaml:"inspect_addr" json:"inspect_addr,omitempty"`
	Prediction      *FilePrediction   `yaml:"prediction" json:"prediction,omitempty" jsonschema:"description=Message classes applied to the shadow state"`
	AreaRoutes      map[uint16]string `yaml:"area_routes" json:"area_routes,omitempty" jsonschema:"description=Server address per area id for area handoff"`
	Logging         *FileLogging      `yaml:"logging" json:"logging,omitempty"`
}

// FilePrediction overrides individual prediction classes.
type FilePrediction struct {
	Position  *bool `yaml:"position" json:"position,omitempty"`
	Animation *bool `yaml:"animation" json:"animation,omitempty"`
	Inventory *bool `yaml:"inventory" json:"inventory,omitempty"`
	Stats     *bool `yaml:"stats" json:"stats,omitempty"`
	Effects   *bool `yaml:"effects" json:"effects,omitempty"`
	Visual    *bool `yaml:"visual" json:"visual,omitempty"`
}

// FileLogging overrides logging options.
type FileLogging struct {
	Level string `yaml:"level" json:"level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	Path  string `yaml:"path" json:"path,omitempty"`
}

// ReadFile parses and validates the YAML overlay at path.
func ReadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return ParseFile(data)
}

// ParseFile decodes a YAML overlay, rejecting unknown keys.
func ParseFile(data []byte) (*FileConfig, error) {
	var file FileConfig
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	for _, raw := range []string{file.ConnectTimeout, file.RetryBackoff} {
		if raw == "" {
			continue
		}
		if d, err := time.ParseDuration(raw); err != nil || d <= 0 {
			return nil, fmt.Errorf("parse config file: invalid duration %q", raw)
		}
	}
	return &file, nil
}

// Apply copies every set field onto cfg.
func (f *FileConfig) Apply(cfg *Config) {
	if f == nil || cfg == nil {
		return
	}
	assign(&cfg.Address, f.Address)
	assign(&cfg.Identity, f.Identity)
	assign(&cfg.ClientMetadata, f.ClientMetadata)
	assign(&cfg.CaptureDir, f.CaptureDir)
	assign(&cfg.InspectAddr, f.InspectAddr)
	if f.ProtocolVersion != 0 {
		cfg.ProtocolVersion = f.ProtocolVersion
	}
	if d, err := time.ParseDuration(f.ConnectTimeout); err == nil && d > 0 {
		cfg.ConnectTimeout = d
	}
	if d, err := time.ParseDuration(f.RetryBackoff); err == nil && d > 0 {
		cfg.RetryBackoff = d
	}
	if f.MaxRetries != nil && *f.MaxRetries >= 0 {
		cfg.MaxRetries = *f.MaxRetries
	}
	if f.CaptureKeep != nil && *f.CaptureKeep >= 0 {
		cfg.CaptureMaxBundles = *f.CaptureKeep
	}
	if f.SimHz > 0 {
		cfg.SimHz = f.SimHz
	}
	if f.TickQueue > 0 {
		cfg.TickQueueCapacity = f.TickQueue
	}
	if p := f.Prediction; p != nil {
		assignBool(&cfg.Prediction.Position, p.Position)
		assignBool(&cfg.Prediction.Animation, p.Animation)
		assignBool(&cfg.Prediction.Inventory, p.Inventory)
		assignBool(&cfg.Prediction.Stats, p.Stats)
		assignBool(&cfg.Prediction.Effects, p.Effects)
		assignBool(&cfg.Prediction.Visual, p.Visual)
	}
	if len(f.AreaRoutes) > 0 {
		cfg.AreaRoutes = maps.Clone(f.AreaRoutes)
	}
	if l := f.Logging; l != nil {
		assign(&cfg.Logging.Level, l.Level)
		assign(&cfg.Logging.Path, l.Path)
	}
}

// Schema renders the JSON Schema describing the YAML overlay.
func Schema() ([]byte, error) {
	reflector := &jsonschema.Reflector{ExpandedStruct: true}
	schema := reflector.Reflect(&FileConfig{})
	return json.MarshalIndent(schema, "", "  ")
}

func assign(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func assignBool(dst *bool, value *bool) {
	if value != nil {
		*dst = *value
	}
}
