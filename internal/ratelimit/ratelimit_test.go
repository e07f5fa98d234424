package ratelimit

import (
	"context"
	"testing"
	"time"

	"shopbot/internal/storage"
	"shopbot/internal/transport"
	logx "shopbot/pkg/logx"
)

type memAudit struct {
	rows []storage.RateAudit
}

func (m *memAudit) AppendRateAudit(_ context.Context, a storage.RateAudit) error {
	m.rows = append(m.rows, a)
	return nil
}

func TestMinuteCeilingAndRollover(t *testing.T) {
	l := New(Config{PerMinute: 3, PerHour: 100}, nil, logx.Nop())
	now := time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, _ := l.CanSend(transport.PlatformTelegram, now)
		if !ok {
			t.Fatalf("send %d should be allowed", i+1)
		}
		l.RegisterSend(ctx, transport.PlatformTelegram, true, now)
	}

	ok, reason := l.CanSend(transport.PlatformTelegram, now)
	if ok {
		t.Fatalf("4th send within the minute should be denied")
	}
	if reason == "" {
		t.Fatalf("denial should carry a reason")
	}

	// Window rolls over: allowed again.
	later := now.Add(61 * time.Second)
	if ok, _ := l.CanSend(transport.PlatformTelegram, later); !ok {
		t.Fatalf("send should be allowed after minute rollover")
	}
}

func TestHourCeiling(t *testing.T) {
	l := New(Config{PerMinute: 1000, PerHour: 2}, nil, logx.Nop())
	now := time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)
	ctx := context.Background()

	l.RegisterSend(ctx, transport.PlatformTelegram, true, now)
	l.RegisterSend(ctx, transport.PlatformTelegram, false, now.Add(time.Minute))

	if ok, _ := l.CanSend(transport.PlatformTelegram, now.Add(2*time.Minute)); ok {
		t.Fatalf("hour ceiling should deny (failed attempts count too)")
	}
	if ok, _ := l.CanSend(transport.PlatformTelegram, now.Add(61*time.Minute)); !ok {
		t.Fatalf("send should be allowed after hour rollover")
	}
}

func TestPlatformsAreIndependent(t *testing.T) {
	l := New(Config{PerMinute: 1, PerHour: 10}, nil, logx.Nop())
	now := time.Now()
	l.RegisterSend(context.Background(), transport.PlatformTelegram, true, now)

	if ok, _ := l.CanSend(transport.PlatformTelegram, now); ok {
		t.Fatalf("telegram should be at its ceiling")
	}
	if ok, _ := l.CanSend(transport.Platform("other"), now); !ok {
		t.Fatalf("other platform must not share counters")
	}
}

func TestRegisterSendWritesAudit(t *testing.T) {
	sink := &memAudit{}
	l := New(Config{}, sink, logx.Nop())
	now := time.Now()

	l.RegisterSend(context.Background(), transport.PlatformTelegram, true, now)
	l.RegisterSend(context.Background(), transport.PlatformTelegram, false, now)

	if len(sink.rows) != 2 {
		t.Fatalf("expected 2 audit rows, got %d", len(sink.rows))
	}
	if sink.rows[1].Success {
		t.Fatalf("second row should record a failure")
	}
	if sink.rows[1].CountMinute != 2 {
		t.Fatalf("failed attempts must increment counters, got %d", sink.rows[1].CountMinute)
	}
}

func TestOptimalDelay(t *testing.T) {
	l := New(Config{BaseDelay: 2 * time.Second}, nil, logx.Nop())

	if got := l.OptimalDelay(transport.PlatformTelegram, 0); got != 2*time.Second {
		t.Fatalf("no failures: got %v", got)
	}
	if got := l.OptimalDelay(transport.PlatformTelegram, 2); got != 4*time.Second {
		t.Fatalf("2 failures: got %v, want 4s", got)
	}
	if got := l.OptimalDelay(transport.PlatformTelegram, -5); got != 2*time.Second {
		t.Fatalf("negative failures clamp to base, got %v", got)
	}
}
