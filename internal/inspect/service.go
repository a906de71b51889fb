package inspect

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"driftpursuit/worldclient/internal/logging"
)

// Provider reports one section of the status document. Values must be
// structpb compatible: strings, bools, numbers, nested maps and slices.
type Provider func() map[string]any

// Option customises the behaviour of the inspection service.
type Option func(*Service)

// tickerFactory constructs cancellable tick channels for the watch stream.
type tickerFactory func(time.Duration) (<-chan time.Time, func())

// WithTickerFactory overrides the watch ticker (used in tests).
func WithTickerFactory(factory tickerFactory) Option {
	return func(s *Service) {
		if factory != nil {
			s.newTicker = factory
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.now = clock
		}
	}
}

// Service implements InspectorServer over a set of named providers.
type Service struct {
	mu        sync.RWMutex
	providers map[string]Provider
	interval  time.Duration
	newTicker tickerFactory
	now       func() time.Time
	log       *logging.Logger
}

// NewService builds a service that streams every interval.
func NewService(interval time.Duration, logger *logging.Logger, opts ...Option) *Service {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = logging.L()
	}
	service := &Service{
		providers: make(map[string]Provider),
		interval:  interval,
		newTicker: defaultTickerFactory,
		now:       time.Now,
		log:       logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(service)
		}
	}
	return service
}

func defaultTickerFactory(interval time.Duration) (<-chan time.Time, func()) {
	ticker := time.NewTicker(interval)
	return ticker.C, ticker.Stop
}

// Register adds or replaces a named section.
func (s *Service) Register(name string, provider Provider) {
	if provider == nil {
		return
	}
	s.mu.Lock()
	s.providers[name] = provider
	s.mu.Unlock()
}

// Report assembles the current status document.
func (s *Service) Report() (*structpb.Struct, error) {
	s.mu.RLock()
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	doc := map[string]any{"at": s.now().UTC().Format(time.RFC3339Nano)}
	for _, name := range names {
		doc[name] = s.providers[name]()
	}
	s.mu.RUnlock()
	return structpb.NewStruct(doc)
}

// Status returns one status document.
func (s *Service) Status(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if err := ctx.Err(); err != nil {
		return nil, status.FromContextError(err).Err()
	}
	report, err := s.Report()
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build report: %v", err)
	}
	return report, nil
}

// Watch streams a status document immediately and then once per interval
// until the client goes away.
func (s *Service) Watch(_ *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	ctx := stream.Context()
	tickCh, stop := s.newTicker(s.interval)
	defer stop()

	send := func() error {
		report, err := s.Report()
		if err != nil {
			return status.Errorf(codes.Internal, "build report: %v", err)
		}
		return stream.Send(report)
	}

	//1.- Give the watcher a document without waiting a full interval.
	if err := send(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			//2.- Surface cancellation so clients can tell it from a server fault.
			if errors.Is(ctx.Err(), context.Canceled) {
				return status.Error(codes.Canceled, "watch cancelled")
			}
			return status.Error(codes.DeadlineExceeded, "watch deadline exceeded")
		case _, ok := <-tickCh:
			if !ok {
				return nil
			}
			if err := send(); err != nil {
				s.log.Debug("inspect watch ended", logging.Error(err))
				return err
			}
		}
	}
}
