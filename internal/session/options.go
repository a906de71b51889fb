package session

import (
	"maps"
	"time"

	"driftpursuit/worldclient/internal/config"
	"driftpursuit/worldclient/internal/logging"
	"driftpursuit/worldclient/internal/protocol"
	"driftpursuit/worldclient/internal/snapshot"
	"driftpursuit/worldclient/internal/transport"
)

// Params identify the server and account for one connection.
type Params struct {
	Address  string
	Identity string
	Token    string
	Version  uint16
	Metadata string
}

// ParamsFromConfig extracts connection parameters.
func ParamsFromConfig(cfg *config.Config) Params {
	return Params{
		Address:  cfg.Address,
		Identity: cfg.Identity,
		Token:    cfg.Token,
		Version:  cfg.ProtocolVersion,
		Metadata: cfg.ClientMetadata,
	}
}

// TokenSource mints a handshake token when Params carry none.
type TokenSource interface {
	Sign(subject, session, audience string) (string, error)
}

// Recorder captures decoded ticks and session events.
type Recorder interface {
	RecordTick(seq uint64, tick []byte) error
	RecordEvent(seq uint64, kind string, payload any) error
}

// AreaRoute picks the server that hosts area. Returning false, or the
// current address, keeps the existing connection.
type AreaRoute func(area uint16) (address string, ok bool)

// RoutesFromConfig serves the static area table from cfg.
func RoutesFromConfig(cfg *config.Config) AreaRoute {
	if len(cfg.AreaRoutes) == 0 {
		return nil
	}
	routes := maps.Clone(cfg.AreaRoutes)
	return func(area uint16) (string, bool) {
		address, ok := routes[area]
		return address, ok
	}
}

// Options wires a Session to its collaborators. Zero values fall back to the
// config package defaults.
type Options struct {
	Dialer transport.Dialer
	Clock  func() time.Time

	ConnectTimeout time.Duration
	RetryBackoff   time.Duration
	MaxRetries     int

	InputBufferBytes  int
	TickQueueCapacity int
	MaxTickBytes      int
	MaxOpcodes        int
	SendBufferBytes   int
	SendRate          float64

	Prediction config.PredictionConfig

	Audio     protocol.AudioSink
	Chat      protocol.ChatSink
	Status    StatusSink
	Snapshots *snapshot.Store
	Recorder  Recorder
	Tokens    TokenSource
	AreaRoute AreaRoute
	Logger    *logging.Logger
}

// OptionsFromConfig copies the tunables from cfg. Collaborators are left for
// the caller to fill in.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ConnectTimeout:    cfg.ConnectTimeout,
		RetryBackoff:      cfg.RetryBackoff,
		MaxRetries:        cfg.MaxRetries,
		InputBufferBytes:  cfg.InputBufferBytes,
		TickQueueCapacity: cfg.TickQueueCapacity,
		MaxTickBytes:      cfg.MaxTickBytes,
		MaxOpcodes:        cfg.MaxOpcodesPerTick,
		SendBufferBytes:   cfg.SendBufferBytes,
		SendRate:          cfg.SendRate,
		Prediction:        cfg.Prediction,
		AreaRoute:         RoutesFromConfig(cfg),
	}
}

func (o *Options) normalise() {
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = config.DefaultConnectTimeout
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = config.DefaultRetryBackoff
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.InputBufferBytes <= 0 {
		o.InputBufferBytes = config.DefaultInputBufferBytes
	}
	if o.TickQueueCapacity <= 0 {
		o.TickQueueCapacity = config.DefaultTickQueueCapacity
	}
	if o.MaxTickBytes <= 0 {
		o.MaxTickBytes = config.DefaultMaxTickBytes
	}
	if o.MaxOpcodes <= 0 {
		o.MaxOpcodes = config.DefaultMaxOpcodesPerTick
	}
	if o.SendBufferBytes <= 0 {
		o.SendBufferBytes = config.DefaultSendBufferBytes
	}
	if o.Logger == nil {
		o.Logger = logging.L()
	}
	if o.Dialer == nil {
		o.Dialer = transport.NewDialer(transport.Options{Logger: o.Logger})
	}
}
