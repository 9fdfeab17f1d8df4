// Package session implements the Session Filter: a UTC-hour gate admitting
// or rejecting a timestamp for trading, plus the scalp strategy's
// session-end buffer.
package session

import "time"

// ScalpEndBufferMinutes is how close to the session end a scalp strategy
// refuses new entries.
const ScalpEndBufferMinutes = 30

// Admit reports whether ts (treated in UTC) falls within [start, end) hours.
// The window (0, 24) admits everything. Requires 0 <= start <= end <= 24.
func Admit(ts time.Time, startHour, endHour int) bool {
	h := ts.UTC().Hour()
	return startHour <= h && h < endHour
}

// AdmitWithEndBuffer applies Admit plus a minutes-before-end buffer: no new
// entries within bufferMinutes of the window's end hour.
func AdmitWithEndBuffer(ts time.Time, startHour, endHour, bufferMinutes int) bool {
	if !Admit(ts, startHour, endHour) {
		return false
	}
	utc := ts.UTC()
	sessionEnd := time.Date(utc.Year(), utc.Month(), utc.Day(), endHour, 0, 0, 0, time.UTC)
	return sessionEnd.Sub(utc) > time.Duration(bufferMinutes)*time.Minute
}
