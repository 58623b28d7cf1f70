// Package session classifies points in time into trading-session phases for
// the HOSE trading day and provides the trading-day calendar used by both
// the live scheduler and the simulation clock.
package session

import "time"

// Phase is the stage of the trading day at a given instant.
type Phase string

const (
	PhasePreOpenAuction Phase = "PRE_OPEN_AUCTION"
	PhaseContinuous     Phase = "CONTINUOUS"
	PhaseCloseAuction   Phase = "CLOSE_AUCTION"
	PhaseClosed         Phase = "CLOSED"
)

// Daily boundaries, minutes from midnight. Morning 09:00-11:30 with the
// opening auction 09:00-09:15; afternoon 13:00-14:45 with the closing
// auction starting 14:30.
const (
	openAuctionStart = 9 * 60
	continuousStart  = 9*60 + 15
	lunchStart       = 11*60 + 30
	lunchEnd         = 13 * 60
	closeAuctionAt   = 14*60 + 30
	sessionClose     = 14*60 + 45
)

// Calendar maps timestamps to phases and walks trading days. Pure and
// stateless: safe for concurrent use without locks.
type Calendar struct {
	// Holidays are non-trading weekdays, keyed by date in loc.
	Holidays map[string]bool
	// Loc is the exchange timezone. Defaults to UTC+7 when nil.
	Loc *time.Location
}

// NewCalendar returns a calendar for the exchange timezone (UTC+7).
func NewCalendar() *Calendar {
	return &Calendar{Loc: time.FixedZone("ICT", 7*3600)}
}

// Location returns the exchange timezone.
func (c *Calendar) Location() *time.Location {
	return c.loc()
}

func (c *Calendar) loc() *time.Location {
	if c != nil && c.Loc != nil {
		return c.Loc
	}
	return time.FixedZone("ICT", 7*3600)
}

// IsTradingDay reports whether t falls on a weekday that is not a holiday.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	t = t.In(c.loc())
	wd := t.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	if c.Holidays != nil && c.Holidays[t.Format("2006-01-02")] {
		return false
	}
	return true
}

// PhaseAt classifies an instant into a session phase.
func (c *Calendar) PhaseAt(t time.Time) Phase {
	if !c.IsTradingDay(t) {
		return PhaseClosed
	}
	t = t.In(c.loc())
	m := t.Hour()*60 + t.Minute()

	switch {
	case m >= openAuctionStart && m < continuousStart:
		return PhasePreOpenAuction
	case m >= continuousStart && m < lunchStart:
		return PhaseContinuous
	case m >= lunchEnd && m < closeAuctionAt:
		return PhaseContinuous
	case m >= closeAuctionAt && m < sessionClose:
		return PhaseCloseAuction
	default:
		return PhaseClosed
	}
}

// InLunchRecess reports whether t falls in the midday break of a trading day.
func (c *Calendar) InLunchRecess(t time.Time) bool {
	if !c.IsTradingDay(t) {
		return false
	}
	t = t.In(c.loc())
	m := t.Hour()*60 + t.Minute()
	return m >= lunchStart && m < lunchEnd
}

// NextTradingDay returns the first trading day strictly after date.
func (c *Calendar) NextTradingDay(date time.Time) time.Time {
	d := date.In(c.loc())
	for {
		d = d.AddDate(0, 0, 1)
		if c.IsTradingDay(d) {
			return c.atMinutes(d, 0)
		}
	}
}

// SessionOpen returns the opening-auction start on the given date.
func (c *Calendar) SessionOpen(date time.Time) time.Time {
	return c.atMinutes(date, openAuctionStart)
}

// SessionClose returns the end of the trading day on the given date.
func (c *Calendar) SessionClose(date time.Time) time.Time {
	return c.atMinutes(date, sessionClose)
}

// LunchStart returns the start of the midday recess on the given date.
func (c *Calendar) LunchStart(date time.Time) time.Time {
	return c.atMinutes(date, lunchStart)
}

// LunchEnd returns the end of the midday recess on the given date.
func (c *Calendar) LunchEnd(date time.Time) time.Time {
	return c.atMinutes(date, lunchEnd)
}

// OpenAuctionResolvedAt returns the instant the opening auction of date has
// produced its price: the start of continuous trading.
func (c *Calendar) OpenAuctionResolvedAt(date time.Time) time.Time {
	return c.atMinutes(date, continuousStart)
}

// CloseAuctionStart returns when the closing auction of date begins; the
// reference close is the last candle at or after this instant.
func (c *Calendar) CloseAuctionStart(date time.Time) time.Time {
	return c.atMinutes(date, closeAuctionAt)
}

// CloseAuctionResolvedAt returns the instant the closing auction of date has
// produced its price.
func (c *Calendar) CloseAuctionResolvedAt(date time.Time) time.Time {
	return c.atMinutes(date, sessionClose)
}

func (c *Calendar) atMinutes(date time.Time, m int) time.Time {
	d := date.In(c.loc())
	return time.Date(d.Year(), d.Month(), d.Day(), m/60, m%60, 0, 0, c.loc())
}
