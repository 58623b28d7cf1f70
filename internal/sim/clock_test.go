package sim

import (
	"errors"
	"testing"
	"time"

	"stocklab_go/internal/domain"
	"stocklab_go/internal/session"
)

var ict = time.FixedZone("ICT", 7*3600)

// 2025-06-02 is a Monday.
func day(d, hour, min int) time.Time {
	return time.Date(2025, 6, d, hour, min, 0, 0, ict)
}

func newClock(t *testing.T, start, end time.Time) *VirtualClock {
	t.Helper()
	return NewVirtualClock(start, end, session.NewCalendar())
}

func TestVirtualClock_StartSnapsToSessionOpen(t *testing.T) {
	tests := []struct {
		name  string
		start time.Time
		want  time.Time
	}{
		{"early morning", day(2, 7, 0), day(2, 9, 0)},
		{"mid session unchanged", day(2, 10, 30), day(2, 10, 30)},
		{"lunch snaps to afternoon", day(2, 12, 0), day(2, 13, 0)},
		{"after close moves to next day", day(2, 16, 0), day(3, 9, 0)},
		{"saturday moves to monday", day(7, 10, 0), day(9, 9, 0)},
	}
	end := day(30, 15, 0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClock(t, tt.start, end)
			if !c.Now().Equal(tt.want) {
				t.Errorf("start = %v, want %v", c.Now(), tt.want)
			}
		})
	}
}

func TestVirtualClock_Jumps(t *testing.T) {
	end := day(30, 15, 0)
	tests := []struct {
		name string
		from time.Time
		step Step
		want time.Time
	}{
		{"one minute inside session", day(2, 9, 14), Step1m, day(2, 9, 15)},
		{"half hour into lunch snaps out", day(2, 11, 10), Step30m, day(2, 13, 0)},
		{"hour past close lands next open", day(2, 14, 0), Step1h, day(3, 9, 0)},
		{"friday close jumps the weekend", day(6, 14, 30), Step1h, day(9, 9, 0)},
		{"next trading day at open", day(2, 10, 30), Step1d, day(3, 9, 0)},
		{"friday next day is monday", day(6, 10, 0), Step1d, day(9, 9, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClock(t, tt.from, end)
			got, err := c.Advance(tt.step)
			if err != nil {
				t.Fatalf("Advance: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("landed %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVirtualClock_ClampsAtEnd(t *testing.T) {
	end := day(2, 10, 0)
	c := newClock(t, day(2, 9, 50), end)

	got, err := c.Advance(Step30m)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if !got.Equal(end) {
		t.Errorf("landed %v, want clamp at %v", got, end)
	}
	if !c.AtEnd() {
		t.Error("clock should report AtEnd")
	}
	if _, err := c.Advance(Step1m); !errors.Is(err, domain.ErrSessionEnded) {
		t.Errorf("expected ErrSessionEnded past the end, got %v", err)
	}
}

func TestVirtualClock_NextDayClampsAtEnd(t *testing.T) {
	// End falls on the last trading day; +1 day must not pass it.
	end := day(2, 14, 45)
	c := newClock(t, day(2, 10, 0), end)

	got, err := c.Advance(Step1d)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if !got.Equal(end) {
		t.Errorf("landed %v, want clamp at %v", got, end)
	}
}

func TestVirtualClock_UnknownStep(t *testing.T) {
	c := newClock(t, day(2, 10, 0), day(30, 15, 0))
	_, err := c.Peek(Step("2h"))
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}
