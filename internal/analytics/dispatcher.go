package analytics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultWorkers      = 4
	DefaultBufferSize   = 1024
	defaultEventTimeout = 5 * time.Second
)

var (
	errMissingRecorder = errors.New("analytics: recorder required")
	errDispatcherDrain = errors.New("analytics: dispatcher did not drain before deadline")
)

// EventKind distinguishes page views from platform clicks.
type EventKind int

const (
	EventPageView EventKind = iota
	EventPlatformClick
)

// Event is a queued analytics write.
type Event struct {
	Kind        EventKind
	SmartLinkID string
	Platform    string
}

// Recorder persists analytics events. *Service satisfies it.
type Recorder interface {
	RecordPageView(ctx context.Context, smartLinkID string) error
	RecordPlatformClick(ctx context.Context, smartLinkID, rawKey string) error
}

type DispatcherConfig struct {
	Recorder     Recorder
	Workers      int
	BufferSize   int
	EventTimeout time.Duration
	Logger       *zap.Logger
}

// Dispatcher hands analytics writes to a fixed worker pool so request handlers never wait
// on persistence. A full queue drops the event.
type Dispatcher struct {
	recorder Recorder
	events   chan Event
	timeout  time.Duration
	logger   *zap.Logger
	wg       sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
}

// NewDispatcher starts the worker pool.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Recorder == nil {
		return nil, errMissingRecorder
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	timeout := cfg.EventTimeout
	if timeout <= 0 {
		timeout = defaultEventTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	dispatcher := &Dispatcher{
		recorder: cfg.Recorder,
		events:   make(chan Event, bufferSize),
		timeout:  timeout,
		logger:   logger,
	}
	dispatcher.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go dispatcher.work()
	}
	logger.Info("analytics dispatcher started", zap.Int("workers", workers), zap.Int("buffer", bufferSize))
	return dispatcher, nil
}

// PageView queues a page view. It reports false when the event was dropped.
func (d *Dispatcher) PageView(smartLinkID string) bool {
	return d.enqueue(Event{Kind: EventPageView, SmartLinkID: smartLinkID})
}

// PlatformClick queues a platform click. It reports false when the event was dropped.
func (d *Dispatcher) PlatformClick(smartLinkID, platform string) bool {
	return d.enqueue(Event{Kind: EventPlatformClick, SmartLinkID: smartLinkID, Platform: platform})
}

func (d *Dispatcher) enqueue(event Event) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn("analytics dispatcher closed, dropping event", zap.String("smartlink_id", event.SmartLinkID))
		return false
	}
	select {
	case d.events <- event:
		return true
	default:
		d.logger.Warn("analytics queue full, dropping event",
			zap.String("smartlink_id", event.SmartLinkID),
			zap.Int("capacity", cap(d.events)))
		return false
	}
}

// Close stops intake and waits for queued events to be written or ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.events)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", errDispatcherDrain, ctx.Err())
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for event := range d.events {
		d.handle(event)
	}
}

func (d *Dispatcher) handle(event Event) {
	defer func() {
		if recovered := recover(); recovered != nil {
			d.logger.Error("analytics event panicked",
				zap.String("smartlink_id", event.SmartLinkID),
				zap.Any("panic", recovered))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	var err error
	switch event.Kind {
	case EventPageView:
		err = d.recorder.RecordPageView(ctx, event.SmartLinkID)
	case EventPlatformClick:
		err = d.recorder.RecordPlatformClick(ctx, event.SmartLinkID, event.Platform)
	}
	if err == nil {
		return
	}
	if errors.Is(err, ErrSmartLinkNotFound) {
		d.logger.Info("analytics event for missing smartlink", zap.String("smartlink_id", event.SmartLinkID))
		return
	}
	d.logger.Warn("analytics event failed",
		zap.String("smartlink_id", event.SmartLinkID),
		zap.String("platform", event.Platform),
		zap.Error(err))
}
