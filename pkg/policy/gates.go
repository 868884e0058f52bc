package policy

import (
	"net"
	"time"
)

// timeAllows reports whether now falls within w's validity window,
// allowed weekdays, and hour-of-day range. A nil window always allows.
func timeAllows(w *TimeWindow, now time.Time) bool {
	if w == nil {
		return true
	}
	if w.Timezone != nil {
		now = now.In(w.Timezone)
	}
	if w.ValidFrom != nil && now.Before(*w.ValidFrom) {
		return false
	}
	if w.ValidUntil != nil && now.After(*w.ValidUntil) {
		return false
	}
	if len(w.AllowedWeekdays) > 0 && !weekdayAllowed(w.AllowedWeekdays, now.Weekday()) {
		return false
	}
	if w.HourStart == 0 && w.HourEnd == 0 {
		return true
	}
	return hourAllows(w.HourStart, w.HourEnd, now.Hour())
}

func weekdayAllowed(allowed []time.Weekday, day time.Weekday) bool {
	for _, d := range allowed {
		if d == day {
			return true
		}
	}
	return false
}

// hourAllows supports overnight ranges where start > end, e.g. 22:00
// through 06:00 the next day.
func hourAllows(start, end, hour int) bool {
	if start <= end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

// ipAllows checks a client IP against block- and allow-lists of CIDR
// blocks. The block-list is checked first; if the allow-list is
// non-empty, the IP must additionally match it. A nil restriction
// always allows.
func ipAllows(r *IPRestriction, ip string) bool {
	if r == nil {
		return true
	}
	clientIP := net.ParseIP(ip)
	if clientIP == nil {
		// Unparseable client IP cannot satisfy a restriction; fail closed.
		return len(r.Allow) == 0 && len(r.Block) == 0
	}
	for _, cidr := range r.Block {
		if cidrContains(cidr, clientIP) {
			return false
		}
	}
	if len(r.Allow) == 0 {
		return true
	}
	for _, cidr := range r.Allow {
		if cidrContains(cidr, clientIP) {
			return true
		}
	}
	return false
}

func cidrContains(cidr string, ip net.IP) bool {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return false
	}
	return network.Contains(ip)
}

func actionAllowed(a Actions, action string) bool {
	for _, d := range a.Denied {
		if d == action {
			return false
		}
	}
	for _, allow := range a.Allowed {
		if allow == "*" || allow == action {
			return true
		}
	}
	return false
}
