package node

import "time"

// WakeIn returns the time left until the next multiple of boundary since
// the epoch, clamped to [1s, boundary].
func WakeIn(now time.Time, boundary time.Duration) time.Duration {
	b := int64(boundary / time.Second)
	if b <= 0 {
		return time.Second
	}
	secs := b - now.Unix()%b
	if secs < 1 {
		secs = 1
	}
	if secs > b {
		secs = b
	}
	return time.Duration(secs) * time.Second
}

// ValidTime rejects clocks that were never set.
func ValidTime(t time.Time) bool { return t.Year() >= 2020 }

func sameDay(a, b time.Time, loc *time.Location) bool {
	a, b = a.In(loc), b.In(loc)
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

func sameHour(a, b time.Time, loc *time.Location) bool {
	return sameDay(a, b, loc) && a.In(loc).Hour() == b.In(loc).Hour()
}
