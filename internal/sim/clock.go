// Package sim implements the practice-challenge mode: a virtual clock that
// walks historical sessions and an isolated controller that trades against
// cached candles instead of the live feed.
package sim

import (
	"fmt"
	"time"

	"stocklab_go/internal/domain"
	"stocklab_go/internal/session"
)

// Step is a clock jump size.
type Step string

const (
	Step1m  Step = "1m"
	Step5m  Step = "5m"
	Step30m Step = "30m"
	Step1h  Step = "1h"
	Step1d  Step = "1d" // next trading day, at session open
)

var stepDurations = map[Step]time.Duration{
	Step1m:  time.Minute,
	Step5m:  5 * time.Minute,
	Step30m: 30 * time.Minute,
	Step1h:  time.Hour,
}

// Valid reports whether s is a known step.
func (s Step) Valid() bool {
	if s == Step1d {
		return true
	}
	_, ok := stepDurations[s]
	return ok
}

// VirtualClock is the challenge clock. It only ever lands on instants inside
// a trading session: a jump into the lunch recess snaps to the recess end,
// a jump past the close lands on the next trading day's open, and no jump
// passes the challenge end date. Not safe for concurrent use; the controller
// serializes access.
type VirtualClock struct {
	cur time.Time
	end time.Time
	cal *session.Calendar
}

// NewVirtualClock starts a clock at the first sessionable instant at or
// after start. end bounds every jump.
func NewVirtualClock(start, end time.Time, cal *session.Calendar) *VirtualClock {
	c := &VirtualClock{end: end, cal: cal}
	c.cur = c.clamp(c.normalize(start))
	return c
}

// Now returns the current virtual instant.
func (c *VirtualClock) Now() time.Time { return c.cur }

// AtEnd reports whether the clock has reached the challenge end.
func (c *VirtualClock) AtEnd() bool { return !c.cur.Before(c.end) }

// Peek computes where a jump would land without moving the clock.
func (c *VirtualClock) Peek(step Step) (time.Time, error) {
	if !step.Valid() {
		return time.Time{}, domain.Validation(fmt.Sprintf("unknown clock step %q", step))
	}
	if c.AtEnd() {
		return time.Time{}, domain.ErrSessionEnded
	}

	var target time.Time
	if step == Step1d {
		target = c.cal.SessionOpen(c.cal.NextTradingDay(c.cur))
	} else {
		target = c.normalize(c.cur.Add(stepDurations[step]))
	}
	return c.clamp(target), nil
}

// Advance moves the clock to the Peek target. The controller calls this only
// after confirming a price exists at the target.
func (c *VirtualClock) Advance(step Step) (time.Time, error) {
	target, err := c.Peek(step)
	if err != nil {
		return time.Time{}, err
	}
	c.cur = target
	return c.cur, nil
}

// normalize moves an instant forward to the nearest point inside a session:
// lunch snaps to the afternoon open, anything at or past the close moves to
// the next trading day's open, and early mornings move to that day's open.
func (c *VirtualClock) normalize(t time.Time) time.Time {
	for {
		if !c.cal.IsTradingDay(t) {
			t = c.cal.SessionOpen(c.cal.NextTradingDay(t))
			continue
		}
		if !t.Before(c.cal.SessionClose(t)) {
			t = c.cal.SessionOpen(c.cal.NextTradingDay(t))
			continue
		}
		if t.Before(c.cal.SessionOpen(t)) {
			return c.cal.SessionOpen(t)
		}
		if c.cal.InLunchRecess(t) {
			return c.cal.LunchEnd(t)
		}
		return t
	}
}

func (c *VirtualClock) clamp(t time.Time) time.Time {
	if t.After(c.end) {
		return c.end
	}
	return t
}
