package utils

import (
	"log"
	"time"
)

const (
	// DateLayout is the canonical date form stored and queried everywhere.
	DateLayout = "2006-01-02"
	// CompactDateLayout is the YYYYMMDD form the exchange API expects.
	CompactDateLayout = "20060102"
)

// TimeNowTaipei returns the current time in the exchange's timezone.
func TimeNowTaipei() time.Time {
	loc, err := time.LoadLocation("Asia/Taipei")
	if err != nil {
		log.Fatal("Failed to load location", err)
	}
	return time.Now().In(loc)
}

// IsWeekend reports whether t falls on a Saturday or Sunday.
func IsWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// TradingDates enumerates the weekdays in [start, end], inclusive.
// Weekends are never trading days; exchange holidays are discovered at
// fetch time via empty responses.
func TradingDates(start, end time.Time) []time.Time {
	var dates []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if !IsWeekend(d) {
			dates = append(dates, d)
		}
	}
	return dates
}
