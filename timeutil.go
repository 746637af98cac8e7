package main

import (
	"fmt"
	"strings"
	"time"
)

const seoulZone = "Asia/Seoul"

// LoadSeoul falls back to a fixed +09:00 zone when tzdata is unavailable.
func LoadSeoul() *time.Location {
	loc, err := time.LoadLocation(seoulZone)
	if err != nil {
		return time.FixedZone("KST", 9*3600)
	}
	return loc
}

// DayBounds returns [start, end) of the calendar day containing t in loc.
func DayBounds(t time.Time, loc *time.Location) (start, end time.Time) {
	lt := t.In(loc)
	start = time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
	end = start.AddDate(0, 0, 1)
	return start, end
}

func FormatKST(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(loc).Format("2006-01-02 15:04:05") + " KST"
}

// archiveStamp is the YYYYMMDD_HHMMSS suffix used in snapshot file names.
func archiveStamp(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("20060102_150405")
}

// ParseClock parses "HH:MM" or "HH:MM:SS" into hour and minute.
func ParseClock(s string) (hour, minute int, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0, fmt.Errorf("empty time")
	}
	layout := "15:04"
	if strings.Count(s, ":") == 2 {
		layout = "15:04:05"
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return 0, 0, err
	}
	return t.Hour(), t.Minute(), nil
}
