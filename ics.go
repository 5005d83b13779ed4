package aura

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
)

const icsProductID = "-//Aura Calendar//aura-go//EN"

// DefaultImportance is assigned to imported events without a usable priority.
const DefaultImportance = 5

// ExportICS writes events as an iCalendar VCALENDAR, one VEVENT per event.
// Times are written in UTC.
func ExportICS(w io.Writer, events []Event) error {
	return exportICS(w, events, time.Now())
}

func exportICS(w io.Writer, events []Event, stamp time.Time) error {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(icsProductID)

	for _, ev := range events {
		vev := cal.AddEvent(eventUID(ev))
		vev.SetDtStampTime(stamp.UTC())
		vev.SetStartAt(ev.Start.UTC())
		vev.SetEndAt(ev.End.UTC())
		vev.SetSummary(ev.Title)
		if ev.Description != nil && *ev.Description != "" {
			vev.SetDescription(*ev.Description)
		}
		if ev.Location != nil && *ev.Location != "" {
			vev.SetLocation(*ev.Location)
		}
		if p := importanceToPriority(ev.Importance); p > 0 {
			vev.SetProperty(ical.ComponentPropertyPriority, strconv.Itoa(p))
		}
		status := "CONFIRMED"
		if !ev.IsActive() {
			status = "CANCELLED"
		}
		vev.SetProperty(ical.ComponentPropertyStatus, status)
	}

	if _, err := io.WriteString(w, cal.Serialize()); err != nil {
		return fmt.Errorf("write calendar: %w", err)
	}
	return nil
}

func eventUID(ev Event) string {
	return fmt.Sprintf("aura-%d@aura-calendar", ev.ID)
}

// ImportICS reads the VEVENTs of an iCalendar stream as drafts. Events
// without a start, cancelled events and events that fail validation are
// skipped.
func ImportICS(r io.Reader) ([]EventDraft, error) {
	cal, err := ical.ParseCalendar(r)
	if err != nil {
		return nil, fmt.Errorf("parse calendar: %w", err)
	}

	var drafts []EventDraft
	for _, vev := range cal.Events() {
		d, err := draftFromVEvent(vev)
		if err != nil {
			continue
		}
		drafts = append(drafts, d)
	}
	return drafts, nil
}

var errSkipEvent = errors.New("event skipped")

func draftFromVEvent(vev *ical.VEvent) (EventDraft, error) {
	var d EventDraft

	start, err := vev.GetStartAt()
	if err != nil {
		return d, fmt.Errorf("%w: %v", errSkipEvent, err)
	}
	end, err := vev.GetEndAt()
	if err != nil || !end.After(start) {
		// A VEVENT without DTEND lasts one hour here.
		end = start.Add(time.Hour)
	}
	d.Start = At(start)
	d.End = At(end)

	if p := vev.GetProperty(ical.ComponentPropertySummary); p != nil {
		d.Title = strings.TrimSpace(p.Value)
	}
	if p := vev.GetProperty(ical.ComponentPropertyDescription); p != nil && p.Value != "" {
		desc := p.Value
		d.Description = &desc
	}
	if p := vev.GetProperty(ical.ComponentPropertyLocation); p != nil && p.Value != "" {
		loc := p.Value
		d.Location = &loc
	}
	if p := vev.GetProperty(ical.ComponentPropertyStatus); p != nil && strings.EqualFold(p.Value, "CANCELLED") {
		return d, errSkipEvent
	}

	d.Importance = DefaultImportance
	if p := vev.GetProperty(ical.ComponentPropertyPriority); p != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(p.Value)); err == nil && n > 0 {
			d.Importance = priorityToImportance(n)
		}
	}

	if err := d.Validate(); err != nil {
		return d, fmt.Errorf("%w: %v", errSkipEvent, err)
	}
	return d, nil
}

// importanceToPriority maps importance 0-10 (10 highest) onto iCalendar
// PRIORITY 1-9 (1 highest). 0 means undefined.
func importanceToPriority(importance int) int {
	if importance <= 0 {
		return 0
	}
	p := 10 - importance
	if p < 1 {
		p = 1
	}
	if p > 9 {
		p = 9
	}
	return p
}

func priorityToImportance(priority int) int {
	if priority < 1 || priority > 9 {
		return DefaultImportance
	}
	return 10 - priority
}
