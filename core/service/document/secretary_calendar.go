package document

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"secretary_server/core/domain"
)

var eventLayouts = []string{
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseEventDate accepts the timestamp shapes models commonly produce.
// Zone-less values are read as UTC.
func ParseEventDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range eventLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// ProjectEvents builds one calendar event per parseable event date. Unparseable
// dates are returned separately. Duplicate timestamps collapse onto one event.
func ProjectEvents(meta *domain.LegalMetadata, documentID, userID string) ([]*domain.CalendarEvent, []string) {
	if meta == nil {
		return nil, nil
	}

	caseNumber := deref(meta.CaseNumber)
	docType := deref(meta.DocumentType)
	court := deref(meta.Court)

	var (
		events  []*domain.CalendarEvent
		skipped []string
		seen    = map[string]bool{}
	)
	for _, raw := range meta.EventDates {
		startsAt, ok := ParseEventDate(raw)
		if !ok {
			skipped = append(skipped, raw)
			continue
		}
		id := domain.CalendarEventID(caseNumber, docType, startsAt, userID)
		if seen[id] {
			continue
		}
		seen[id] = true

		events = append(events, &domain.CalendarEvent{
			ID:           id,
			DocumentID:   documentID,
			UserID:       userID,
			CaseNumber:   caseNumber,
			DocumentType: docType,
			Court:        court,
			Parties:      append([]string(nil), meta.Parties...),
			StartsAt:     startsAt,
			Title:        eventTitle(docType, caseNumber),
		})
	}
	return events, skipped
}

func eventTitle(docType, caseNumber string) string {
	if docType == "" {
		docType = "Court event"
	}
	if caseNumber == "" {
		return docType
	}
	return docType + " - " + caseNumber
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

// =============================================================================
// iCalendar export
// =============================================================================

const icsTimeLayout = "20060102T150405Z"

// ExportICS renders events as an iCalendar (RFC 5545) document.
func ExportICS(events []*domain.CalendarEvent, stamp time.Time) string {
	sorted := append([]*domain.CalendarEvent(nil), events...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartsAt.Before(sorted[j].StartsAt) })

	var b strings.Builder
	writeLine(&b, "BEGIN:VCALENDAR")
	writeLine(&b, "VERSION:2.0")
	writeLine(&b, "PRODID:-//secretary_server//legal calendar//EN")
	writeLine(&b, "CALSCALE:GREGORIAN")
	for _, ev := range sorted {
		writeLine(&b, "BEGIN:VEVENT")
		writeLine(&b, "UID:"+ev.ID+"@secretary")
		writeLine(&b, "DTSTAMP:"+stamp.UTC().Format(icsTimeLayout))
		writeLine(&b, "DTSTART:"+ev.StartsAt.UTC().Format(icsTimeLayout))
		writeLine(&b, "SUMMARY:"+escapeICS(ev.Title))
		if desc := eventDescription(ev); desc != "" {
			writeLine(&b, "DESCRIPTION:"+escapeICS(desc))
		}
		if ev.Court != "" {
			writeLine(&b, "LOCATION:"+escapeICS(ev.Court))
		}
		writeLine(&b, "END:VEVENT")
	}
	writeLine(&b, "END:VCALENDAR")
	return b.String()
}

func eventDescription(ev *domain.CalendarEvent) string {
	var parts []string
	if ev.CaseNumber != "" {
		parts = append(parts, "Case: "+ev.CaseNumber)
	}
	if len(ev.Parties) > 0 {
		parts = append(parts, "Parties: "+strings.Join(ev.Parties, ", "))
	}
	return strings.Join(parts, "\n")
}

var icsEscaper = strings.NewReplacer(`\`, `\\`, ";", `\;`, ",", `\,`, "\r\n", `\n`, "\n", `\n`)

func escapeICS(s string) string {
	return icsEscaper.Replace(s)
}

// writeLine folds content lines so no physical line exceeds 75 octets.
// Continuation lines start with a space, which counts toward the limit.
func writeLine(b *strings.Builder, line string) {
	const limit = 75
	width := limit
	for len(line) > width {
		cut := width
		// 멀티바이트 문자 중간에서 자르지 않도록
		for cut > 0 && !utf8Start(line[cut]) {
			cut--
		}
		fmt.Fprintf(b, "%s\r\n ", line[:cut])
		line = line[cut:]
		width = limit - 1
	}
	b.WriteString(line)
	b.WriteString("\r\n")
}

func utf8Start(c byte) bool {
	return c&0xC0 != 0x80
}
