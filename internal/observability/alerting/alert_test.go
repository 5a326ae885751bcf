package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	xerrors "MNEE-Nexus/internal/errors"
	"MNEE-Nexus/internal/notify"
)

type recordingNotifier struct {
	mu      sync.Mutex
	channel Channel
	events  []Event
	err     error
	got     chan Event
}

func (n *recordingNotifier) Channel() Channel { return n.channel }

func (n *recordingNotifier) Notify(_ context.Context, event Event) error {
	n.mu.Lock()
	n.events = append(n.events, event)
	n.mu.Unlock()
	if n.got != nil {
		n.got <- event
	}
	return n.err
}

func TestEventFromEntryFiltersByCode(t *testing.T) {
	if _, ok := EventFromEntry(notify.Entry{Kind: notify.KindProgress, Code: string(xerrors.CodeChainFailure)}); ok {
		t.Fatalf("progress entries must not alert")
	}
	if _, ok := EventFromEntry(notify.Entry{Kind: notify.KindError, Code: string(xerrors.CodeInvalidArgument)}); ok {
		t.Fatalf("info codes must not alert")
	}
	if _, ok := EventFromEntry(notify.Entry{Kind: notify.KindError}); ok {
		t.Fatalf("entries without a code must not alert")
	}

	event, ok := EventFromEntry(notify.Entry{
		Kind:      notify.KindError,
		Code:      string(xerrors.CodeChainFailure),
		Text:      "ERROR: approve failed: nonce too low",
		AttemptID: "att-1",
		TaskID:    big.NewInt(4),
	})
	if !ok {
		t.Fatalf("expected chain failure to alert")
	}
	if event.Severity != xerrors.SeverityWarning || event.AttemptID != "att-1" || event.Metadata["task_id"] != "4" {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestFanoutJoinsErrors(t *testing.T) {
	ok := &recordingNotifier{channel: ChannelLog}
	bad := &recordingNotifier{channel: ChannelSlack, err: errors.New("boom")}
	d := NewFanout(ok, bad, nil)
	if d.Len() != 2 {
		t.Fatalf("expected two channels, got %d", d.Len())
	}
	err := d.Notify(context.Background(), Event{Code: xerrors.CodeStorageFailure})
	if err == nil || !strings.Contains(err.Error(), "channel slack") {
		t.Fatalf("expected joined slack error, got %v", err)
	}
	if len(ok.events) != 1 {
		t.Fatalf("expected healthy channel to receive the event")
	}
}

func TestWatchForwardsAlertEntries(t *testing.T) {
	feed := notify.NewFeed()
	defer feed.Close()

	rec := &recordingNotifier{channel: ChannelLog, got: make(chan Event, 4)}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Watch(ctx, feed, NewFanout(rec))
		close(done)
	}()

	// 等待订阅建立后再追加。
	deadline := time.Now().Add(2 * time.Second)
	for {
		feed.Append(notify.Entry{Kind: notify.KindError, Code: string(xerrors.CodeStorageFailure), Text: "ERROR: disk full"})
		select {
		case event := <-rec.got:
			if event.Code != xerrors.CodeStorageFailure || event.Message != "ERROR: disk full" {
				t.Fatalf("unexpected event: %+v", event)
			}
			cancel()
			<-done
			return
		case <-time.After(20 * time.Millisecond):
		}
		if time.Now().After(deadline) {
			t.Fatalf("watcher did not forward the entry")
		}
	}
}

func TestSlackNotifierPostsWebhook(t *testing.T) {
	var payload map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := &SlackNotifier{Sender: NewWebhookSender(srv.URL, time.Second), ChannelID: "#ops"}
	err := n.Notify(context.Background(), Event{
		Code:      xerrors.CodeChainFailure,
		Severity:  xerrors.SeverityWarning,
		Message:   "ERROR: createTask failed",
		AttemptID: "att-9",
	})
	if err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	if payload["channel"] != "#ops" || payload["text"] != "*[warning]* CHAIN_FAILURE - ERROR: createTask failed (attempt att-9)" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestWebhookSenderRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := NewWebhookSender(srv.URL, time.Second).Send(context.Background(), "", "hi"); err == nil {
		t.Fatalf("expected status error")
	}
}
