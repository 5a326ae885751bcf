// Package subscriber keeps a single standing subscription to the escrow's
// TaskCompleted events and forwards every decoded event to the feed.
package subscriber

import (
	"context"
	"log/slog"
	"sync"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"

	xerrors "MNEE-Nexus/internal/errors"
	"MNEE-Nexus/internal/notify"
	"MNEE-Nexus/internal/web3/contracts"
	"MNEE-Nexus/pkg/logger"
)

// CodeSubscriptionError covers listener registration, drop and decode
// failures. It is logged and never affects hiring.
const CodeSubscriptionError xerrors.Code = "SUBSCRIPTION_ERROR"

func init() {
	xerrors.Register(CodeSubscriptionError, xerrors.Attributes{
		Message:   "completion subscription error",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
}

// State of the subscriber.
type State int

const (
	Unsubscribed State = iota
	Subscribed
)

func (s State) String() string {
	if s == Subscribed {
		return "subscribed"
	}
	return "unsubscribed"
}

// LogSource opens log subscriptions.
type LogSource interface {
	SubscribeFilterLogs(ctx context.Context, q gethcore.FilterQuery, ch chan<- types.Log) (gethcore.Subscription, error)
}

// Decoder turns escrow logs into completion events.
type Decoder interface {
	CompletedQuery() gethcore.FilterQuery
	DecodeTaskCompleted(lg types.Log) (contracts.TaskCompleted, error)
}

// Sink receives completion events.
type Sink interface {
	Completion(evt notify.Completion) notify.Entry
}

// Observer is notified about delivered events and subscription errors.
type Observer interface {
	CompletionReceived()
	SubscriptionFailed()
}

// Subscriber owns the listener lifecycle.
type Subscriber struct {
	source   LogSource
	decoder  Decoder
	sink     Sink
	backoff  time.Duration
	observer Observer
	logger   *slog.Logger

	mu    sync.Mutex
	state State
	sub   event.Subscription
	quit  chan struct{}
	done  chan struct{}
}

// Option customises a Subscriber.
type Option func(*Subscriber)

// WithBackoff sets the maximum wait between resubscription attempts.
func WithBackoff(d time.Duration) Option {
	return func(s *Subscriber) {
		if d > 0 {
			s.backoff = d
		}
	}
}

// WithObserver attaches metrics hooks.
func WithObserver(o Observer) Option {
	return func(s *Subscriber) {
		s.observer = o
	}
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Subscriber) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates an unsubscribed subscriber.
func New(source LogSource, decoder Decoder, sink Sink, opts ...Option) *Subscriber {
	s := &Subscriber{
		source:  source,
		decoder: decoder,
		sink:    sink,
		backoff: 30 * time.Second,
		logger:  logger.Named("subscriber"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// State reports the current lifecycle state.
func (s *Subscriber) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start registers the listener. Calling Start while subscribed does nothing.
// Registration failures are retried in the background with backoff.
func (s *Subscriber) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Subscribed {
		return
	}

	query := s.decoder.CompletedQuery()
	logs := make(chan types.Log, 64)
	s.quit = make(chan struct{})
	s.done = make(chan struct{})
	s.sub = event.ResubscribeErr(s.backoff, func(subCtx context.Context, lastErr error) (event.Subscription, error) {
		if lastErr != nil {
			s.reportError(xerrors.Wrap(CodeSubscriptionError, lastErr, "completion subscription dropped"))
		}
		sub, err := s.source.SubscribeFilterLogs(subCtx, query, logs)
		if err != nil {
			s.reportError(xerrors.Wrap(CodeSubscriptionError, err, "completion subscription failed"))
			return nil, err
		}
		return sub, nil
	})
	s.state = Subscribed
	go s.loop(logs, s.quit, s.done)

	s.logger.InfoContext(ctx, "已订阅任务完成事件", slog.Any("addresses", query.Addresses))
}

// Stop removes the listener and waits for the delivery goroutine. Logs
// already buffered are still delivered; events arriving later are dropped.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Unsubscribed {
		return
	}
	close(s.quit)
	s.sub.Unsubscribe()
	<-s.done
	s.sub = nil
	s.state = Unsubscribed
	s.logger.Info("已取消任务完成事件订阅")
}

func (s *Subscriber) loop(logs <-chan types.Log, quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-quit:
			s.drain(logs)
			return
		case lg := <-logs:
			s.deliver(lg)
		}
	}
}

// drain delivers the logs the node handed over before Stop was requested.
// It never blocks and stops after one buffer's worth.
func (s *Subscriber) drain(logs <-chan types.Log) {
	for n := cap(logs); n > 0; n-- {
		select {
		case lg := <-logs:
			s.deliver(lg)
		default:
			return
		}
	}
}

func (s *Subscriber) deliver(lg types.Log) {
	evt, err := s.decoder.DecodeTaskCompleted(lg)
	if err != nil {
		s.reportError(xerrors.Wrap(CodeSubscriptionError, err, "undecodable completion log",
			xerrors.WithMetadata("tx_hash", lg.TxHash.Hex())))
		return
	}
	s.sink.Completion(notify.Completion{
		TaskID:      evt.TaskID,
		Output:      evt.Output,
		BlockNumber: evt.BlockNumber,
		TxHash:      evt.TxHash.Hex(),
		Removed:     evt.Removed,
	})
	if s.observer != nil {
		s.observer.CompletionReceived()
	}
}

func (s *Subscriber) reportError(err *xerrors.Error) {
	s.logger.Warn("任务完成事件订阅异常",
		slog.String("code", string(err.Code())),
		slog.String("error", err.Detail()),
	)
	if s.observer != nil {
		s.observer.SubscriptionFailed()
	}
}
