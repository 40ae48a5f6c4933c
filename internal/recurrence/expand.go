// Package recurrence turns a weekly schedule template (days-of-week times
// times-of-day over a duration window) into concrete absolute instants.
//
// Expansion is a pure function of its inputs: calling Expand twice with the
// same template, window, and timezone yields an identical list. The schedule
// services rely on this determinism to safely delete and regenerate future
// entries without drift.
package recurrence

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/medtrack/go-medtrack-backend/internal/domain"
	"github.com/medtrack/go-medtrack-backend/internal/utils"
)

// Expand returns the ordered list of absolute instants a template produces
// inside [windowStart, windowEnd], both inclusive at day granularity.
//
// Days are iterated from max(template.DateStart, windowStart) to
// min(template.DateEnd, windowEnd); an unbounded template (DurationDays == 0)
// is clipped by windowEnd alone, so callers must supply a bounded window.
// A day is kept when its ISO weekday is in FrequencyDays; each kept day emits
// one instant per "HH:MM" in TimeOfDay, constructed as wall-clock time in loc.
//
// The result is deduplicated and sorted ascending. An empty FrequencyDays
// yields an empty result; rejecting that input is the caller's concern.
// Malformed TimeOfDay values produce an error and no partial output.
func Expand(tpl domain.ScheduleTemplate, windowStart, windowEnd time.Time, loc *time.Location) ([]time.Time, error) {
	if len(tpl.FrequencyDays) == 0 || len(tpl.TimeOfDay) == 0 {
		return []time.Time{}, nil
	}

	times := make([][2]int, 0, len(tpl.TimeOfDay))
	for _, s := range tpl.TimeOfDay {
		hh, mm, err := parseClock(s)
		if err != nil {
			return nil, err
		}
		times = append(times, [2]int{hh, mm})
	}

	wanted := make(map[int]struct{}, len(tpl.FrequencyDays))
	for _, d := range tpl.FrequencyDays {
		wanted[d] = struct{}{}
	}

	// DateStart and DateEnd are day-valued; the window bounds are instants
	// interpreted in loc.
	start := utils.DayKey(tpl.DateStart)
	if ws := utils.Day(windowStart, loc); ws.After(start) {
		start = ws
	}
	end := utils.Day(windowEnd, loc)
	if de := tpl.DateEnd(); de != nil {
		if d := utils.DayKey(*de); d.Before(end) {
			end = d
		}
	}

	seen := make(map[int64]struct{})
	var out []time.Time
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		if _, ok := wanted[utils.ISOWeekday(day)]; !ok {
			continue
		}
		y, m, d := day.Date()
		for _, hm := range times {
			inst := time.Date(y, m, d, hm[0], hm[1], 0, 0, loc)
			if _, dup := seen[inst.Unix()]; dup {
				continue
			}
			seen[inst.Unix()] = struct{}{}
			out = append(out, inst)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	if out == nil {
		out = []time.Time{}
	}
	return out, nil
}

// parseClock parses a strict "HH:MM" 24-hour wall-clock string.
func parseClock(s string) (hh, mm int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return 0, 0, fmt.Errorf("recurrence: invalid time of day %q", s)
	}
	hh, err = strconv.Atoi(parts[0])
	if err != nil || hh < 0 || hh > 23 {
		return 0, 0, fmt.Errorf("recurrence: invalid hour in %q", s)
	}
	mm, err = strconv.Atoi(parts[1])
	if err != nil || mm < 0 || mm > 59 {
		return 0, 0, fmt.Errorf("recurrence: invalid minute in %q", s)
	}
	return hh, mm, nil
}
