package sender

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"shopbot/internal/storage"
	"shopbot/internal/transport"
	logx "shopbot/pkg/logx"
)

// fakeClock drives the sender's time seams without real sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
	return nil
}

type fakeTransport struct {
	label string
	err   error

	mu    sync.Mutex
	calls []transport.Message
	at    []time.Time
	clock *fakeClock
}

func (f *fakeTransport) Platform() transport.Platform { return transport.PlatformTelegram }
func (f *fakeTransport) Label() string                { return f.label }

func (f *fakeTransport) Send(_ context.Context, _ transport.Target, msg transport.Message) (transport.MessageRef, error) {
	f.mu.Lock()
	f.calls = append(f.calls, msg)
	if f.clock != nil {
		f.at = append(f.at, f.clock.Now())
	}
	f.mu.Unlock()
	if f.err != nil {
		return transport.MessageRef{}, f.err
	}
	return transport.MessageRef{MessageID: len(f.calls)}, nil
}

func newTestSender(spacing time.Duration, clock *fakeClock, transports ...*fakeTransport) *Sender {
	s := New(Config{Spacing: spacing}, logx.Nop())
	s.now = clock.Now
	s.sleep = clock.Sleep
	for _, ft := range transports {
		ft.clock = clock
		s.Register(ft)
	}
	return s
}

func TestRoundRobinSpacingAndFairness(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)}
	spacing := time.Second
	a := &fakeTransport{label: "a"}
	b := &fakeTransport{label: "b"}
	c := &fakeTransport{label: "c"}
	s := newTestSender(spacing, clock, a, b, c)

	const m = 7
	camp := storage.Campaign{Text: "hi"}
	for i := 0; i < m; i++ {
		if _, err := s.Send(context.Background(), transport.PlatformTelegram, transport.Target{ChatID: 1}, camp); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	// ceil(7/3) = 3: no credential may be used more often.
	for _, ft := range []*fakeTransport{a, b, c} {
		if len(ft.calls) > 3 {
			t.Fatalf("credential %s used %d times, want <= 3", ft.label, len(ft.calls))
		}
		for i := 1; i < len(ft.at); i++ {
			if gap := ft.at[i].Sub(ft.at[i-1]); gap < spacing {
				t.Fatalf("credential %s reused after %v, spacing is %v", ft.label, gap, spacing)
			}
		}
	}
	if len(a.calls)+len(b.calls)+len(c.calls) != m {
		t.Fatalf("lost sends: %d+%d+%d != %d", len(a.calls), len(b.calls), len(c.calls), m)
	}
}

func TestPickWaitsForEarliestEligible(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)}
	only := &fakeTransport{label: "solo"}
	s := newTestSender(2*time.Second, clock, only)

	start := clock.Now()
	camp := storage.Campaign{Text: "x"}
	for i := 0; i < 3; i++ {
		if _, err := s.Send(context.Background(), transport.PlatformTelegram, transport.Target{ChatID: 1}, camp); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	// Two waits of exactly the spacing, no busy-loop drift.
	if elapsed := clock.Now().Sub(start); elapsed != 4*time.Second {
		t.Fatalf("elapsed %v, want exactly 4s", elapsed)
	}
}

func TestSendNoCredentials(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	s := newTestSender(time.Second, clock)
	_, err := s.Send(context.Background(), transport.PlatformTelegram, transport.Target{}, storage.Campaign{})
	if err == nil {
		t.Fatalf("expected error with no registered credentials")
	}
}

func TestFailedAttemptStillAdvancesLastUsed(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)}
	bad := &fakeTransport{label: "bad", err: errors.New("Bad Request: chat not found")}
	s := newTestSender(time.Second, clock, bad)

	start := clock.Now()
	_, _ = s.Send(context.Background(), transport.PlatformTelegram, transport.Target{ChatID: 1}, storage.Campaign{Text: "x"})
	_, _ = s.Send(context.Background(), transport.PlatformTelegram, transport.Target{ChatID: 1}, storage.Campaign{Text: "x"})

	if elapsed := clock.Now().Sub(start); elapsed < time.Second {
		t.Fatalf("second send should have waited out the spacing, elapsed %v", elapsed)
	}
}

func TestRateLimitedBackoff(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)}
	flooded := &fakeTransport{label: "fl", err: errors.New("Too Many Requests: retry after 7")}
	s := newTestSender(time.Second, clock, flooded)

	start := clock.Now()
	res, err := s.Send(context.Background(), transport.PlatformTelegram, transport.Target{ChatID: 1}, storage.Campaign{Text: "x"})
	if err == nil {
		t.Fatalf("expected transport error")
	}
	if res.Reason != ReasonRateLimited {
		t.Fatalf("reason = %q, want %q", res.Reason, ReasonRateLimited)
	}
	pause := clock.Now().Sub(start)
	if pause < 5*time.Second || pause > 10*time.Second {
		t.Fatalf("self-throttle pause %v outside [5s,10s]", pause)
	}
}

func TestBuildMessageTruncation(t *testing.T) {
	long := strings.Repeat("a", 1050)

	withMedia := BuildMessage(storage.Campaign{Text: long, MediaRef: "file123", MediaKind: transport.MediaPhoto})
	if got := len([]rune(withMedia.Text)); got != transport.CaptionLimit {
		t.Fatalf("caption length %d, want %d", got, transport.CaptionLimit)
	}
	if !strings.HasSuffix(withMedia.Text, "…") {
		t.Fatalf("truncated caption should end with ellipsis")
	}

	textOnly := BuildMessage(storage.Campaign{Text: long})
	if textOnly.Text != long {
		t.Fatalf("text-only message must be sent unmodified")
	}
	if textOnly.MediaKind != transport.MediaNone {
		t.Fatalf("no media ref should mean no media kind")
	}
}

func TestBuildMessageButtons(t *testing.T) {
	msg := BuildMessage(storage.Campaign{
		Text:    "x",
		Button1: transport.Button{Label: "Shop", URL: "https://example.com"},
		Button2: transport.Button{Label: "empty url"},
	})
	if len(msg.Buttons) != 1 {
		t.Fatalf("buttons without URL must be dropped, got %d", len(msg.Buttons))
	}
	if msg.Buttons[0].Label != "Shop" {
		t.Fatalf("unexpected button %+v", msg.Buttons[0])
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  string
		want Reason
	}{
		{"Forbidden: bot was blocked by the user", ReasonBlocked},
		{"Bad Request: chat not found", ReasonNotFound},
		{"Bad Request: message thread not found", ReasonThreadUnavailable},
		{"Bad Request: invalid message_thread_id", ReasonInvalidThread},
		{"Too Many Requests: retry after 31", ReasonRateLimited},
		{"some exotic transport failure", ReasonOther},
	}
	for _, c := range cases {
		if got := classify(errors.New(c.err)); got != c.want {
			t.Fatalf("classify(%q) = %q, want %q", c.err, got, c.want)
		}
	}
	if got := classify(context.DeadlineExceeded); got != ReasonTimeout {
		t.Fatalf("deadline should classify as timeout, got %q", got)
	}
	if !ReasonRateLimited.Transient() || ReasonBlocked.Transient() {
		t.Fatalf("transient classification wrong")
	}
}
