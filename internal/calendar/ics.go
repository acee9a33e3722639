package calendar

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"
)

// maxOccurrencesPerEvent caps recurrence expansion per event.
const maxOccurrencesPerEvent = 1000

// Feed is one ICS subscription.
type Feed struct {
	ID  string
	URL string
}

// ICSSource fetches and expands one or more ICS feeds into occurrences.
type ICSSource struct {
	feeds  []Feed
	client *http.Client
}

func NewICSSource(feeds []Feed, timeout time.Duration) *ICSSource {
	return &ICSSource{
		feeds:  feeds,
		client: &http.Client{Timeout: timeout},
	}
}

// Fetch implements Source. All feeds must succeed; one unreachable feed
// fails the whole fetch rather than returning a partial window.
func (s *ICSSource) Fetch(ctx context.Context, windowStart, windowEnd time.Time) ([]RawOccurrence, error) {
	var out []RawOccurrence
	for _, feed := range s.feeds {
		body, err := s.fetchOne(ctx, feed)
		if err != nil {
			return nil, fmt.Errorf("ics feed %s: %w", feed.ID, err)
		}

		occs, err := expandICS(feed, body, windowStart, windowEnd)
		if err != nil {
			return nil, fmt.Errorf("ics feed %s: %w", feed.ID, err)
		}
		out = append(out, occs...)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartUTC != out[j].StartUTC {
			return out[i].StartUTC < out[j].StartUTC
		}
		return out[i].EventID < out[j].EventID
	})
	return out, nil
}

func (s *ICSSource) fetchOne(ctx context.Context, feed Feed) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// expandICS parses one ICS payload and expands its events into concrete
// occurrences that intersect [windowStart, windowEnd].
func expandICS(feed Feed, body []byte, windowStart, windowEnd time.Time) ([]RawOccurrence, error) {
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse calendar: %w", err)
	}

	var out []RawOccurrence
	for _, ve := range cal.Events() {
		occs, err := expandEvent(feed, ve, windowStart, windowEnd)
		if err != nil {
			// A single malformed event should not poison the feed.
			log.Printf("[calendar] skipping malformed event in feed %s: %v", feed.ID, err)
			continue
		}
		out = append(out, occs...)
	}
	return out, nil
}

func expandEvent(feed Feed, ve *ical.VEvent, windowStart, windowEnd time.Time) ([]RawOccurrence, error) {
	uid := ""
	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		uid = p.Value
	}
	if uid == "" {
		return nil, fmt.Errorf("missing UID")
	}

	summary := "(no title)"
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil && p.Value != "" {
		summary = p.Value
	}

	allDay := false
	rawRRule := ""
	if p := ve.GetProperty(ical.ComponentPropertyDtStart); p != nil {
		// VALUE=DATE or a date-only literal means an all-day event.
		if params := p.ICalParameters; params != nil {
			if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
				allDay = true
			}
		}
		if !strings.Contains(p.Value, "T") {
			allDay = true
		}
	}
	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		rawRRule = p.Value
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return nil, fmt.Errorf("event %s: no usable DTSTART: %w", uid, err)
	}
	end, err := ve.GetEndAt()
	if err != nil || !end.After(start) {
		if allDay {
			end = start.Add(24 * time.Hour)
		} else {
			end = start
		}
	}
	duration := end.Sub(start)

	eventID := feed.ID + "/" + uid

	if rawRRule == "" {
		if end.Before(windowStart) || start.After(windowEnd) {
			return nil, nil
		}
		return []RawOccurrence{{
			EventID:  eventID,
			Summary:  summary,
			StartUTC: start.Unix(),
			EndUTC:   end.Unix(),
			AllDay:   allDay,
		}}, nil
	}

	r, err := rrule.StrToRRule(rawRRule)
	if err != nil {
		return nil, fmt.Errorf("event %s: bad RRULE %q: %w", uid, rawRRule, err)
	}
	r.DTStart(start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range exDates(ve) {
		set.ExDate(ex.In(start.Location()))
	}

	times := set.Between(windowStart.In(start.Location()), windowEnd.In(start.Location()), true)
	if len(times) > maxOccurrencesPerEvent {
		log.Printf("[calendar] event %s truncated at %d occurrences", eventID, maxOccurrencesPerEvent)
		times = times[:maxOccurrencesPerEvent]
	}

	out := make([]RawOccurrence, 0, len(times))
	for _, occStart := range times {
		out = append(out, RawOccurrence{
			EventID:  eventID,
			Summary:  summary,
			StartUTC: occStart.Unix(),
			EndUTC:   occStart.Add(duration).Unix(),
			AllDay:   allDay,
		})
	}
	return out, nil
}

func exDates(ve *ical.VEvent) []time.Time {
	var out []time.Time
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, v := range strings.Split(p.Value, ",") {
			if t, err := parseICalTime(strings.TrimSpace(v)); err == nil {
				out = append(out, t)
			}
		}
	}
	return out
}

func parseICalTime(v string) (time.Time, error) {
	for _, layout := range []string{"20060102T150405Z", "20060102T150405", "20060102"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported time value %q", v)
}
