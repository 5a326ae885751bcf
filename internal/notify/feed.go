// Package notify implements the operator notification feed: an append-only
// log shared by the hiring orchestrator and the completion subscriber, with
// live subscribers and optional external publishers.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	xerrors "MNEE-Nexus/internal/errors"
	"MNEE-Nexus/pkg/logger"
)

// Kind classifies feed entries.
type Kind string

const (
	KindProgress   Kind = "progress"
	KindSuccess    Kind = "success"
	KindError      Kind = "error"
	KindCompletion Kind = "completion"
)

// Entry is a single immutable feed line.
type Entry struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Kind      Kind      `json:"kind"`
	AttemptID string    `json:"attempt_id,omitempty"`
	Code      string    `json:"code,omitempty"`
	TaskID    *big.Int  `json:"task_id,omitempty"`
	Output    string    `json:"output,omitempty"`
	Link      string    `json:"link,omitempty"`
}

// Completion is a decoded TaskCompleted event as seen by the feed.
type Completion struct {
	TaskID      *big.Int  `json:"task_id"`
	Output      string    `json:"output"`
	Link        string    `json:"link,omitempty"`
	BlockNumber uint64    `json:"block_number"`
	TxHash      string    `json:"tx_hash,omitempty"`
	Removed     bool      `json:"removed,omitempty"`
	ReceivedAt  time.Time `json:"received_at"`
}

// Publisher forwards entries to an external channel.
type Publisher interface {
	Publish(ctx context.Context, entry Entry) error
	Close() error
}

// Feed is safe for concurrent use. Entries are never evicted.
type Feed struct {
	mu          sync.Mutex
	entries     []Entry
	completions []Completion
	subs        map[int]chan Entry
	nextSub     int

	publishers     []Publisher
	publishTimeout time.Duration
	outbox         chan Entry
	done           chan struct{}
	closeOnce      sync.Once

	now    func() time.Time
	logger *slog.Logger
}

// Option customises a Feed.
type Option func(*Feed)

// WithPublishers attaches external publishers.
func WithPublishers(publishers ...Publisher) Option {
	return func(f *Feed) {
		for _, p := range publishers {
			if p != nil {
				f.publishers = append(f.publishers, p)
			}
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(f *Feed) {
		if now != nil {
			f.now = now
		}
	}
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Feed) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewFeed creates an empty feed. When publishers are configured a single
// goroutine forwards entries to them in append order.
func NewFeed(opts ...Option) *Feed {
	f := &Feed{
		subs:           make(map[int]chan Entry),
		publishTimeout: 3 * time.Second,
		now:            time.Now,
		logger:         logger.Named("notify"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	if len(f.publishers) > 0 {
		f.outbox = make(chan Entry, 256)
		f.done = make(chan struct{})
		go f.forward(f.outbox)
	}
	return f
}

// Append stores entry atomically, filling in the id and timestamp, and
// returns the stored value.
func (f *Feed) Append(entry Entry) Entry {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.TaskID != nil {
		entry.TaskID = new(big.Int).Set(entry.TaskID)
	}

	f.mu.Lock()
	if entry.Timestamp.IsZero() {
		entry.Timestamp = f.now().UTC()
	}
	f.entries = append(f.entries, entry)
	for _, ch := range f.subs {
		select {
		case ch <- entry:
		default:
		}
	}
	if f.outbox != nil {
		select {
		case f.outbox <- entry:
		default:
			f.logger.Warn("通知广播队列已满，丢弃条目", slog.String("entry_id", entry.ID))
		}
	}
	f.mu.Unlock()
	return entry
}

// Post appends a plain text entry.
func (f *Feed) Post(kind Kind, text, attemptID string) Entry {
	return f.Append(Entry{Kind: kind, Text: text, AttemptID: attemptID})
}

// Completion records a completion event and appends exactly one entry
// carrying the task id and the raw output.
func (f *Feed) Completion(evt Completion) Entry {
	if evt.ReceivedAt.IsZero() {
		evt.ReceivedAt = f.now().UTC()
	}
	if evt.TaskID == nil {
		evt.TaskID = new(big.Int)
	} else {
		evt.TaskID = new(big.Int).Set(evt.TaskID)
	}
	_, evt.Link = SplitResource(evt.Output)

	f.mu.Lock()
	f.completions = append(f.completions, evt)
	f.mu.Unlock()

	return f.Append(Entry{
		Kind:   KindCompletion,
		Text:   fmt.Sprintf("INCOMING TRANSMISSION (Task #%s): %s", evt.TaskID, evt.Output),
		TaskID: evt.TaskID,
		Output: evt.Output,
		Link:   evt.Link,
	})
}

// Entries returns up to limit entries, newest first. A non-positive limit
// returns everything.
func (f *Feed) Entries(limit int) []Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.entries)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Entry, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, f.entries[i])
	}
	return out
}

// Completions returns up to limit completion events, newest first.
func (f *Feed) Completions(limit int) []Completion {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.completions)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Completion, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, f.completions[i])
	}
	return out
}

// Len reports the number of stored entries.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// Subscribe registers a live listener. Entries are dropped for a listener
// whose buffer is full so appends never block. The returned cancel function
// closes the channel.
func (f *Feed) Subscribe(buffer int) (<-chan Entry, func()) {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan Entry, buffer)

	f.mu.Lock()
	id := f.nextSub
	f.nextSub++
	f.subs[id] = ch
	f.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
			close(ch)
		})
	}
}

// Close stops forwarding to publishers and closes them.
func (f *Feed) Close() error {
	var errs []string
	f.closeOnce.Do(func() {
		f.mu.Lock()
		outbox := f.outbox
		f.outbox = nil
		f.mu.Unlock()
		if outbox != nil {
			close(outbox)
			<-f.done
		}
		for _, p := range f.publishers {
			if err := p.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
	})
	if len(errs) > 0 {
		return fmt.Errorf("关闭通知广播失败: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (f *Feed) forward(outbox <-chan Entry) {
	defer close(f.done)
	for entry := range outbox {
		for _, p := range f.publishers {
			ctx, cancel := context.WithTimeout(context.Background(), f.publishTimeout)
			if err := p.Publish(ctx, entry); err != nil {
				f.logger.Warn("通知广播失败",
					slog.String("entry_id", entry.ID),
					slog.String("code", string(xerrors.CodeOf(err))),
					slog.Any("error", err))
			}
			cancel()
		}
	}
}

// SplitResource separates an output into its leading text and the embedded
// link starting at the first "http", if any. The link ends at the first
// whitespace.
func SplitResource(output string) (text, link string) {
	idx := strings.Index(output, "http")
	if idx < 0 {
		return output, ""
	}
	text = strings.TrimSpace(output[:idx])
	link = output[idx:]
	if end := strings.IndexAny(link, " \t\r\n"); end >= 0 {
		link = link[:end]
	}
	return text, link
}
