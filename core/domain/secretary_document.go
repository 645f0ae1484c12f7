package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ArtifactKind discriminates document artifacts sharing a document id.
type ArtifactKind string

const (
	ArtifactLegalMetadata  ArtifactKind = "legal_metadata"
	ArtifactSummary        ArtifactKind = "summary"
	ArtifactQA             ArtifactKind = "qa"
	ArtifactAnalysis       ArtifactKind = "analysis"
	ArtifactClassification ArtifactKind = "classification"
)

// Valid reports whether k is one of the stored artifact kinds.
func (k ArtifactKind) Valid() bool {
	switch k {
	case ArtifactLegalMetadata, ArtifactSummary, ArtifactQA, ArtifactAnalysis, ArtifactClassification:
		return true
	}
	return false
}

// LegalMetadata is what the extraction model pulls out of a court document.
type LegalMetadata struct {
	DocumentType *string  `json:"document_type" bson:"document_type"`
	CaseNumber   *string  `json:"case_number" bson:"case_number"`
	Court        *string  `json:"court" bson:"court"`
	Parties      []string `json:"parties" bson:"parties"`
	EventDates   []string `json:"event_dates" bson:"event_dates"`
}

// LegalMetadataFromMap coerces a decoded JSON object. Parties given as
// objects are reduced to their name field.
func LegalMetadataFromMap(m map[string]any) *LegalMetadata {
	meta := &LegalMetadata{
		DocumentType: optionalString(m["document_type"]),
		CaseNumber:   optionalString(m["case_number"]),
		Court:        optionalString(m["court"]),
		Parties:      []string{},
		EventDates:   []string{},
	}
	if list, ok := m["parties"].([]any); ok {
		for _, p := range list {
			switch v := p.(type) {
			case map[string]any:
				if name := optionalString(v["name"]); name != nil {
					meta.Parties = append(meta.Parties, *name)
				}
			default:
				if s := optionalString(v); s != nil {
					meta.Parties = append(meta.Parties, *s)
				}
			}
		}
	}
	switch dates := m["event_dates"].(type) {
	case []any:
		for _, d := range dates {
			if s := optionalString(d); s != nil {
				meta.EventDates = append(meta.EventDates, *s)
			}
		}
	case string:
		if s := optionalString(dates); s != nil {
			meta.EventDates = append(meta.EventDates, *s)
		}
	}
	return meta
}

// DocumentArtifact is an immutable derived record keyed by document id.
// Every write creates a new artifact; nothing is updated in place.
type DocumentArtifact struct {
	ID         string         `json:"id" bson:"_id"`
	DocumentID string         `json:"document_id" bson:"document_id"`
	Kind       ArtifactKind   `json:"kind" bson:"kind"`
	UserID     string         `json:"user_id" bson:"user_id"`
	Metadata   *LegalMetadata `json:"metadata,omitempty" bson:"metadata,omitempty"`
	Question   *string        `json:"question,omitempty" bson:"question,omitempty"`
	Party      *string        `json:"party,omitempty" bson:"party,omitempty"`
	Output     string         `json:"output,omitempty" bson:"output,omitempty"`
	RawExcerpt string         `json:"raw_excerpt,omitempty" bson:"raw_excerpt,omitempty"`
	Category   Category       `json:"category,omitempty" bson:"category,omitempty"`
	CreatedAt  time.Time      `json:"created_at" bson:"created_at"`
}

// ExcerptLength is the prefix of source text stored with metadata artifacts.
const ExcerptLength = 200

// Excerpt returns the first n runes of text.
func Excerpt(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n])
}

// =============================================================================
// Calendar
// =============================================================================

// CalendarEvent is projected from one extracted event timestamp.
type CalendarEvent struct {
	ID           string    `json:"id" bson:"_id"`
	DocumentID   string    `json:"document_id" bson:"document_id"`
	UserID       string    `json:"user_id" bson:"user_id"`
	CaseNumber   string    `json:"case_number" bson:"case_number"`
	DocumentType string    `json:"document_type" bson:"document_type"`
	Court        string    `json:"court" bson:"court"`
	Parties      []string  `json:"parties" bson:"parties"`
	StartsAt     time.Time `json:"starts_at" bson:"starts_at"`
	Title        string    `json:"title" bson:"title"`
	UpdatedAt    time.Time `json:"updated_at" bson:"updated_at"`
}

// "_" separates id segments, so it is not kept inside one.
var unsafeIDChars = regexp.MustCompile(`[^A-Za-z0-9-]+`)

func slug(s, fallback string) string {
	s = unsafeIDChars.ReplaceAllString(strings.TrimSpace(s), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return fallback
	}
	return s
}

// CalendarEventID derives a stable identifier from the event inputs so that
// reruns on identical input overwrite rather than duplicate. The readable
// slug is lossy; the trailing hash of the raw inputs keeps ids distinct.
func CalendarEventID(caseNumber, documentType string, startsAt time.Time, userID string) string {
	stamp := startsAt.UTC().Format("20060102T150405")

	h := sha256.New()
	for _, part := range []string{caseNumber, documentType, stamp, userID} {
		fmt.Fprintf(h, "%d:%s;", len(part), part)
	}

	return fmt.Sprintf("%s_%s_%s_%s_%s",
		slug(caseNumber, "nocase"),
		slug(documentType, "document"),
		stamp,
		slug(userID, "anonymous"),
		hex.EncodeToString(h.Sum(nil)[:8]),
	)
}

// =============================================================================
// Notification
// =============================================================================

type NotificationType string

const (
	NotificationTypeEmail    NotificationType = "email"
	NotificationTypeDocument NotificationType = "document"
	NotificationTypeSystem   NotificationType = "system"
)

// Notification is a per-user dashboard entry.
type Notification struct {
	ID         string           `json:"id" db:"id"`
	UserID     string           `json:"user_id" db:"user_id"`
	Type       NotificationType `json:"type" db:"type"`
	Title      string           `json:"title" db:"title"`
	Message    string           `json:"message" db:"message"`
	EntityType string           `json:"entity_type,omitempty" db:"entity_type"`
	EntityID   string           `json:"entity_id,omitempty" db:"entity_id"`
	IsRead     bool             `json:"is_read" db:"is_read"`
	CreatedAt  time.Time        `json:"created_at" db:"created_at"`
}

// MailboxProfile identifies an inbox swept for one user.
type MailboxProfile struct {
	Name        string
	UserID      string
	Provider    string
	Query       string
	MaxMessages int
}

const unreadFilter = "is:unread"

// UnseenQuery narrows a mailbox search to unread mail. The filter is added
// unless the query already carries it.
func UnseenQuery(query string) string {
	query = strings.TrimSpace(query)
	for _, term := range strings.Fields(query) {
		if strings.EqualFold(term, unreadFilter) {
			return query
		}
	}
	if query == "" {
		return unreadFilter
	}
	return query + " " + unreadFilter
}
