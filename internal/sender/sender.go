package sender

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"shopbot/internal/storage"
	"shopbot/internal/transport"
	logx "shopbot/pkg/logx"
)

type Config struct {
	// Spacing is the minimum gap between two sends through the same
	// credential. Default 1s.
	Spacing time.Duration
}

const defaultSpacing = time.Second

type slot struct {
	sender   transport.Sender
	lastUsed time.Time
}

// Sender round-robins sends across the registered credentials of each
// platform, keeping per-credential spacing so one identity is never hammered.
type Sender struct {
	mu      sync.Mutex
	spacing time.Duration
	slots   map[transport.Platform][]*slot
	cursor  map[transport.Platform]int

	log logx.Logger

	// Test seams. Production uses the real clock.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, log logx.Logger) *Sender {
	if cfg.Spacing <= 0 {
		cfg.Spacing = defaultSpacing
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sender{
		spacing: cfg.Spacing,
		slots:   map[transport.Platform][]*slot{},
		cursor:  map[transport.Platform]int{},
		log:     log,
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// Apply updates the spacing at runtime.
func (s *Sender) Apply(cfg Config) {
	if cfg.Spacing <= 0 {
		cfg.Spacing = defaultSpacing
	}
	s.mu.Lock()
	s.spacing = cfg.Spacing
	s.mu.Unlock()
}

// Register adds credentials. Order matters: rotation follows it.
func (s *Sender) Register(senders ...transport.Sender) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sd := range senders {
		p := sd.Platform()
		s.slots[p] = append(s.slots[p], &slot{sender: sd})
	}
}

// Credentials reports how many credentials are registered for a platform.
func (s *Sender) Credentials(platform transport.Platform) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots[platform])
}

// Result describes one send attempt.
type Result struct {
	Credential string
	Reason     Reason // empty on success
	Detail     string // raw transport error text; empty on success
}

// Send picks the next eligible credential for the platform and dispatches the
// campaign to one destination. The credential's last-used timestamp advances
// on every attempt, success or failure. On a rate-limited failure it sleeps a
// randomized 5-10s before returning so callers self-throttle.
func (s *Sender) Send(ctx context.Context, platform transport.Platform, to transport.Target, c storage.Campaign) (Result, error) {
	sl, err := s.pick(ctx, platform)
	if err != nil {
		return Result{}, err
	}

	msg := BuildMessage(c)
	_, sendErr := sl.sender.Send(ctx, to, msg)

	s.mu.Lock()
	sl.lastUsed = s.now()
	s.mu.Unlock()

	res := Result{Credential: sl.sender.Label()}
	if sendErr == nil {
		return res, nil
	}

	res.Reason = classify(sendErr)
	res.Detail = sendErr.Error()
	if res.Reason == ReasonRateLimited {
		pause := time.Duration(float64(5*time.Second) + rand.Float64()*float64(5*time.Second))
		s.log.Warn("transport rate limited, backing off",
			logx.String("platform", string(platform)),
			logx.String("credential", res.Credential),
			logx.Duration("pause", pause))
		_ = s.sleep(ctx, pause)
	}
	return res, sendErr
}

// pick advances the rotation cursor, skipping credentials used within the
// spacing window. When the full rotation is ineligible it waits exactly until
// the earliest credential becomes eligible, then rescans.
func (s *Sender) pick(ctx context.Context, platform transport.Platform) (*slot, error) {
	for {
		s.mu.Lock()
		slots := s.slots[platform]
		n := len(slots)
		if n == 0 {
			s.mu.Unlock()
			return nil, fmt.Errorf("no credentials registered for platform %q", platform)
		}

		now := s.now()
		start := s.cursor[platform]
		var earliest time.Time
		for i := 0; i < n; i++ {
			idx := (start + i) % n
			sl := slots[idx]
			if now.Sub(sl.lastUsed) >= s.spacing {
				s.cursor[platform] = (idx + 1) % n
				s.mu.Unlock()
				return sl, nil
			}
			if e := sl.lastUsed.Add(s.spacing); earliest.IsZero() || e.Before(earliest) {
				earliest = e
			}
		}
		wait := earliest.Sub(now)
		s.mu.Unlock()

		if wait < time.Millisecond {
			wait = time.Millisecond
		}
		if err := s.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

// BuildMessage turns campaign content into the outbound payload. Captions on
// media messages are truncated to the platform limit with an ellipsis; plain
// text goes out unmodified (the platform rejects oversized text explicitly,
// which shows up in the ledger).
func BuildMessage(c storage.Campaign) transport.Message {
	msg := transport.Message{
		Text:      c.Text,
		MediaRef:  c.MediaRef,
		MediaKind: c.MediaKind,
	}
	if c.MediaRef == "" {
		msg.MediaKind = transport.MediaNone
	}
	if msg.MediaKind != transport.MediaNone {
		msg.Text = truncateCaption(msg.Text, transport.CaptionLimit)
	}
	for _, b := range []transport.Button{c.Button1, c.Button2} {
		if b.URL != "" {
			msg.Buttons = append(msg.Buttons, b)
		}
	}
	return msg
}

func truncateCaption(s string, limit int) string {
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit-1]) + "…"
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
