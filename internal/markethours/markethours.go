// Package markethours answers NYSE/Nasdaq session questions in US Eastern time.
package markethours

import (
	"fmt"
	"time"
	_ "time/tzdata" // containers often ship without zoneinfo
)

// Eastern is the exchange's time zone.
var Eastern = mustLoad("America/New_York")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(fmt.Sprintf("markethours: load %s: %v", name, err))
	}
	return loc
}

// Regular session in Eastern time.
const (
	OpenHour    = 9
	OpenMinute  = 30
	CloseHour   = 16
	CloseMinute = 0

	// EarlyCloseHour applies on half days (day after Thanksgiving, Christmas Eve).
	EarlyCloseHour = 13
)

// IsWeekday returns true if t is Mon-Fri in Eastern time.
func IsWeekday(t time.Time) bool {
	wd := t.In(Eastern).Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// IsTradingDay returns true if t is a weekday and not an exchange holiday.
func IsTradingDay(t time.Time) bool {
	return IsWeekday(t) && !IsHoliday(t)
}

func sessionOpen(et time.Time) time.Time {
	return time.Date(et.Year(), et.Month(), et.Day(), OpenHour, OpenMinute, 0, 0, Eastern)
}

func sessionClose(et time.Time) time.Time {
	if IsEarlyClose(et) {
		return time.Date(et.Year(), et.Month(), et.Day(), EarlyCloseHour, 0, 0, 0, Eastern)
	}
	return time.Date(et.Year(), et.Month(), et.Day(), CloseHour, CloseMinute, 0, 0, Eastern)
}

// IsMarketOpen returns true if t falls within the regular session.
func IsMarketOpen(t time.Time) bool {
	et := t.In(Eastern)
	if !IsTradingDay(et) {
		return false
	}
	return !et.Before(sessionOpen(et)) && et.Before(sessionClose(et))
}

// nextTradingDay returns the first trading day strictly after et's date.
func nextTradingDay(et time.Time) time.Time {
	d := time.Date(et.Year(), et.Month(), et.Day(), 12, 0, 0, 0, Eastern)
	for i := 0; i < 10; i++ { // weekends plus back-to-back holidays
		d = d.AddDate(0, 0, 1)
		if IsTradingDay(d) {
			return d
		}
	}
	return d
}

// NextOpen returns the next session open at or after t. During a session it
// returns the following day's open.
func NextOpen(t time.Time) time.Time {
	et := t.In(Eastern)
	if IsTradingDay(et) && et.Before(sessionOpen(et)) {
		return sessionOpen(et)
	}
	return sessionOpen(nextTradingDay(et))
}

// NextClose returns the close of the current session, or of the next one
// when t is after today's close or not on a trading day.
func NextClose(t time.Time) time.Time {
	et := t.In(Eastern)
	if IsTradingDay(et) && et.Before(sessionClose(et)) {
		return sessionClose(et)
	}
	return sessionClose(nextTradingDay(et))
}

// TimeUntilClose returns the time left in the session, 0 when closed.
func TimeUntilClose(t time.Time) time.Duration {
	if !IsMarketOpen(t) {
		return 0
	}
	return sessionClose(t.In(Eastern)).Sub(t)
}

// TimeUntilOpen returns the duration until the next session open.
func TimeUntilOpen(t time.Time) time.Duration {
	return NextOpen(t).Sub(t)
}

// Status is the market state reported by the API.
type Status struct {
	Open      bool      `json:"open"`
	NextOpen  time.Time `json:"next_open"`
	NextClose time.Time `json:"next_close"`
	Message   string    `json:"message"`
}

// StatusAt returns the market state at t.
func StatusAt(t time.Time) Status {
	return Status{
		Open:      IsMarketOpen(t),
		NextOpen:  NextOpen(t),
		NextClose: NextClose(t),
		Message:   StatusString(t),
	}
}

// StatusString returns a human-readable market status.
func StatusString(t time.Time) string {
	if IsMarketOpen(t) {
		return fmt.Sprintf("Market open, closes in %s", fmtDur(TimeUntilClose(t)))
	}
	next := NextOpen(t)
	return fmt.Sprintf("Market closed, opens %s %s ET (%s)",
		next.Weekday().String()[:3], next.Format("15:04"), fmtDur(next.Sub(t)))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
