/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package calendar connects the plan to external CalDAV calendars. It holds
// the iCalendar codec, an OAuth-backed CalDAV client, and the sync service
// that pulls external events in as fixed commitments and pushes placed
// flexible blocks back out.
package calendar

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jonyboev-wq/calendarv2/internal/planner"
)

// prodID identifies documents written by this service. Events carrying it
// plus chunk markers are our own pushes coming back on a later fetch.
const prodID = "-//calendarv2//EN"

// Event is one calendar entry in the normalized form the sync pipeline works
// with. Chunk markers are 1-based and only present on split placements this
// service pushed; foreign events leave them at zero.
type Event struct {
	UID        string
	Summary    string
	Start      time.Time
	End        time.Time
	Flexible   bool
	ChunkIndex int
	ChunkCount int
}

// Duration returns the event length.
func (e Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// EventFromBlock renders a committed placement as a calendar entry. Chunked
// placements get a derived UID so each piece maps to its own event resource.
func EventFromBlock(b planner.Block) Event {
	uid := b.ActivityID
	if b.ChunkIndex > 0 {
		uid = fmt.Sprintf("%s-%d", b.ActivityID, b.ChunkIndex)
	}
	return Event{
		UID:        uid,
		Summary:    b.ActivityID,
		Start:      b.Span.Start,
		End:        b.Span.End,
		Flexible:   b.Kind == planner.KindFlexible,
		ChunkIndex: b.ChunkIndex,
		ChunkCount: b.ChunkCount,
	}
}

// EventsFromBlocks renders a block list in order.
func EventsFromBlocks(blocks []planner.Block) []Event {
	out := make([]Event, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, EventFromBlock(b))
	}
	return out
}

// EncodeEvent renders a single-event iCalendar document, the payload shape
// CalDAV expects on a PUT to the event resource.
func EncodeEvent(e Event) []byte {
	var buf bytes.Buffer
	buf.WriteString("BEGIN:VCALENDAR\r\n")
	buf.WriteString("VERSION:2.0\r\n")
	buf.WriteString("PRODID:" + prodID + "\r\n")
	writeEvent(&buf, e)
	buf.WriteString("END:VCALENDAR\r\n")
	return buf.Bytes()
}

// EncodeCalendar renders a multi-event iCalendar document for export and
// archiving.
func EncodeCalendar(name string, events []Event) []byte {
	var buf bytes.Buffer
	buf.WriteString("BEGIN:VCALENDAR\r\n")
	buf.WriteString("VERSION:2.0\r\n")
	buf.WriteString("PRODID:" + prodID + "\r\n")
	buf.WriteString(fmt.Sprintf("X-WR-CALNAME:%s\r\n", escapeICalText(name)))
	buf.WriteString("CALSCALE:GREGORIAN\r\n")
	buf.WriteString("METHOD:PUBLISH\r\n")
	for _, e := range events {
		writeEvent(&buf, e)
	}
	buf.WriteString("END:VCALENDAR\r\n")
	return buf.Bytes()
}

func writeEvent(buf *bytes.Buffer, e Event) {
	buf.WriteString("BEGIN:VEVENT\r\n")
	buf.WriteString(fmt.Sprintf("UID:%s\r\n", e.UID))
	buf.WriteString(fmt.Sprintf("DTSTAMP:%s\r\n", formatICalTime(time.Now())))
	buf.WriteString(fmt.Sprintf("DTSTART:%s\r\n", formatICalTime(e.Start)))
	buf.WriteString(fmt.Sprintf("DTEND:%s\r\n", formatICalTime(e.End)))
	buf.WriteString(fmt.Sprintf("SUMMARY:%s\r\n", escapeICalText(e.Summary)))
	if e.ChunkIndex > 0 && e.ChunkCount > 0 {
		buf.WriteString(fmt.Sprintf("X-CHUNK-INDEX:%d\r\n", e.ChunkIndex))
		buf.WriteString(fmt.Sprintf("X-CHUNK-COUNT:%d\r\n", e.ChunkCount))
	}
	buf.WriteString("END:VEVENT\r\n")
}

// ParseEvents parses every VEVENT in an iCalendar document. Unknown
// properties are ignored and malformed values leave the corresponding field
// zero; callers decide which events are usable.
func ParseEvents(content string) []Event {
	var events []Event
	var current *Event

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSuffix(strings.TrimSpace(line), "\r")

		if line == "BEGIN:VEVENT" {
			current = &Event{}
			continue
		}
		if line == "END:VEVENT" && current != nil {
			current.Flexible = current.Flexible || current.ChunkIndex > 0 || current.ChunkCount > 0
			events = append(events, *current)
			current = nil
			continue
		}
		if current == nil {
			continue
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		// Property parameters like DTSTART;TZID=... sit between the name
		// and the colon.
		if idx := strings.Index(name, ";"); idx >= 0 {
			name = name[:idx]
		}
		value = strings.TrimSpace(value)

		switch name {
		case "UID":
			current.UID = value
		case "SUMMARY":
			current.Summary = unescapeICalText(value)
		case "DTSTART":
			current.Start = parseICalTime(value)
		case "DTEND":
			current.End = parseICalTime(value)
		case "X-CHUNK-INDEX":
			current.ChunkIndex, _ = strconv.Atoi(value)
		case "X-CHUNK-COUNT":
			current.ChunkCount, _ = strconv.Atoi(value)
		}
	}

	return events
}

// ParseEvent parses a document expected to hold exactly one usable event.
// UID, DTSTART, and DTEND are mandatory.
func ParseEvent(content string) (Event, error) {
	for _, e := range ParseEvents(content) {
		if e.Usable() {
			return e, nil
		}
	}
	return Event{}, fmt.Errorf("ics data missing mandatory fields")
}

// Usable reports whether the event carries the mandatory fields and a
// positive duration.
func (e Event) Usable() bool {
	return e.UID != "" && !e.Start.IsZero() && !e.End.IsZero() && e.Start.Before(e.End)
}

// Helper functions

func formatICalTime(t time.Time) string {
	return t.UTC().Format("20060102T150405Z")
}

// parseICalTime parses an iCal time string.
func parseICalTime(s string) time.Time {
	// Remove TZID if present
	if idx := strings.Index(s, ":"); idx > 0 {
		s = s[idx+1:]
	}

	formats := []string{
		"20060102T150405Z",
		"20060102T150405",
		"20060102",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}

	return time.Time{}
}

func escapeICalText(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, ";", "\\;")
	s = strings.ReplaceAll(s, ",", "\\,")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

func unescapeICalText(s string) string {
	s = strings.ReplaceAll(s, "\\n", "\n")
	s = strings.ReplaceAll(s, "\\,", ",")
	s = strings.ReplaceAll(s, "\\;", ";")
	s = strings.ReplaceAll(s, "\\\\", "\\")
	return s
}
