package main

import (
	"reflect"
	"testing"
	"time"
)

func TestScheduleSpecs(t *testing.T) {
	cases := []struct {
		mode   string
		minute int
		at     string
		want   []string
	}{
		{ModeHourly, 0, "", []string{"0 * * * *"}},
		{ModeHourly2, 0, "", []string{"0 */2 * * *"}},
		{ModeCron, 0, "", []string{"0 9,12,18,21 * * *"}},
		{ModeBoth, 0, "", []string{"0 * * * *", "0 9,12,18,21 * * *"}},
		{ModeTest, 0, "", []string{"* * * * *"}},
		{ModeMinute, 16, "", []string{"16 * * * *"}},
		{"", 5, "", []string{"5 * * * *"}},
		{" Daily ", 0, "15:16", []string{"16 15 * * *"}},
	}
	for _, c := range cases {
		got, err := ScheduleSpecs(c.mode, c.minute, c.at)
		if err != nil {
			t.Errorf("ScheduleSpecs(%q): %v", c.mode, err)
			continue
		}
		if !reflect.DeepEqual(got, c.want) {
			t.Errorf("ScheduleSpecs(%q) = %q, want %q", c.mode, got, c.want)
		}
	}

	for _, bad := range []struct {
		mode   string
		minute int
		at     string
	}{
		{ModeMinute, 60, ""},
		{ModeMinute, -1, ""},
		{ModeDaily, 0, "25:00"},
		{"weekly", 0, ""},
	} {
		if _, err := ScheduleSpecs(bad.mode, bad.minute, bad.at); err == nil {
			t.Errorf("ScheduleSpecs(%q,%d,%q) expected error", bad.mode, bad.minute, bad.at)
		}
	}
}

func TestSchedulerNextRunBeforeStart(t *testing.T) {
	loc := LoadSeoul()
	s, err := NewScheduler(SchedulerConfig{Mode: ModeDaily, At: "15:16", Loc: loc}, nil)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	from := time.Date(2024, 5, 1, 7, 0, 0, 0, time.UTC) // 16:00 KST, after today's run
	next := s.nextFromSpecs(from)
	want := time.Date(2024, 5, 2, 15, 16, 0, 0, loc)
	if !next.Equal(want) {
		t.Fatalf("next = %s, want %s", next, want)
	}

	if n := s.NextRun(); n.IsZero() || n.Before(time.Now()) {
		t.Fatalf("NextRun before Start should come from the specs, got %s", n)
	}
	if !reflect.DeepEqual(s.Specs(), []string{"16 15 * * *"}) {
		t.Fatalf("specs = %q", s.Specs())
	}
}
