package state

import "time"

// durationMins returns the elapsed minutes between two instants, rounded to
// one decimal place so the stored breakdown stays readable.
func durationMins(start, end time.Time) float64 {
	mins := end.Sub(start).Minutes()
	if mins < 0 {
		mins = 0
	}
	return float64(int(mins*10+0.5)) / 10
}
