package domain

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Category is the closed set of labels an inbound email can receive.
type Category string

const (
	CategoryMaintenanceRequest Category = "maintenance_request"
	CategoryRentInquiry        Category = "rent_inquiry"
	CategoryLockoutEmergency   Category = "lockout_emergency"
	CategoryLeaseQuestion      Category = "lease_question"
	CategoryGeneralInquiry     Category = "general_inquiry"
	CategorySpam               Category = "spam"
	CategoryOther              Category = "other"

	// CategoryUnknownFormat is the sentinel for model output that could not be parsed.
	CategoryUnknownFormat Category = "unknown_format"
)

var knownCategories = map[Category]bool{
	CategoryMaintenanceRequest: true,
	CategoryRentInquiry:        true,
	CategoryLockoutEmergency:   true,
	CategoryLeaseQuestion:      true,
	CategoryGeneralInquiry:     true,
	CategorySpam:               true,
	CategoryOther:              true,
	CategoryUnknownFormat:      true,
}

// Categories lists the labels offered to the model, sentinel excluded.
func Categories() []Category {
	return []Category{
		CategoryMaintenanceRequest,
		CategoryRentInquiry,
		CategoryLockoutEmergency,
		CategoryLeaseQuestion,
		CategoryGeneralInquiry,
		CategorySpam,
		CategoryOther,
	}
}

// IsValid reports whether c belongs to the closed set or is the sentinel.
func (c Category) IsValid() bool {
	return knownCategories[c]
}

// NormalizeCategory maps raw model text onto the closed set.
// Empty input means the model gave no label and defaults to general_inquiry;
// anything unrecognized becomes other.
func NormalizeCategory(raw string) Category {
	c := Category(strings.ToLower(strings.TrimSpace(raw)))
	if c == "" {
		return CategoryGeneralInquiry
	}
	if c.IsValid() {
		return c
	}
	return CategoryOther
}

// Urgency levels reported by the extraction model.
type Urgency string

const (
	UrgencyLow       Urgency = "low"
	UrgencyNormal    Urgency = "normal"
	UrgencyHigh      Urgency = "high"
	UrgencyEmergency Urgency = "emergency"
)

// ParseUrgency returns nil for anything outside the known levels.
func ParseUrgency(raw string) *Urgency {
	u := Urgency(strings.ToLower(strings.TrimSpace(raw)))
	switch u {
	case UrgencyLow, UrgencyNormal, UrgencyHigh, UrgencyEmergency:
		return &u
	}
	return nil
}

// =============================================================================
// ClassificationResult
// =============================================================================

// ClassificationResult is the structured output of the extraction model.
// Every known field is always serialized; missing values are explicit nulls.
type ClassificationResult struct {
	Category            Category
	Urgency             *Urgency
	IssueSummary        *string
	TenantName          *string
	PropertyAddress     *string
	Unit                *string
	MaintenanceTicketID *string
	Error               *string

	// Extra holds keys the model returned that are not modelled above.
	Extra map[string]any
}

const (
	keyCategory        = "category"
	keyUrgency         = "urgency"
	keyIssueSummary    = "extracted_issue_summary"
	keyTenantName      = "tenant_name_mentioned"
	keyPropertyAddress = "property_address_mentioned"
	keyUnit            = "unit_mentioned"
	keyTicketID        = "maintenance_ticket_id"
	keyError           = "error"
)

var classificationKeys = map[string]bool{
	keyCategory: true, keyUrgency: true, keyIssueSummary: true, keyTenantName: true,
	keyPropertyAddress: true, keyUnit: true, keyTicketID: true, keyError: true,
}

// UnknownFormat builds the sentinel result for unparseable model output.
func UnknownFormat(marker string) *ClassificationResult {
	return &ClassificationResult{Category: CategoryUnknownFormat, Error: &marker}
}

// ClassificationFromMap builds a result from a decoded JSON object.
// Missing keys become nil, extra keys are kept.
func ClassificationFromMap(m map[string]any) *ClassificationResult {
	r := &ClassificationResult{
		Category:            NormalizeCategory(stringOf(m[keyCategory])),
		IssueSummary:        optionalString(m[keyIssueSummary]),
		TenantName:          optionalString(m[keyTenantName]),
		PropertyAddress:     optionalString(m[keyPropertyAddress]),
		Unit:                optionalString(m[keyUnit]),
		MaintenanceTicketID: optionalString(m[keyTicketID]),
		Error:               optionalString(m[keyError]),
	}
	if u := optionalString(m[keyUrgency]); u != nil {
		r.Urgency = ParseUrgency(*u)
	}
	for k, v := range m {
		if classificationKeys[k] {
			continue
		}
		if r.Extra == nil {
			r.Extra = make(map[string]any)
		}
		r.Extra[k] = v
	}
	return r
}

// ToMap renders the result with every known key present.
func (r *ClassificationResult) ToMap() map[string]any {
	m := make(map[string]any, len(classificationKeys)+len(r.Extra))
	for k, v := range r.Extra {
		m[k] = v
	}
	m[keyCategory] = string(r.Category)
	if r.Urgency != nil {
		m[keyUrgency] = string(*r.Urgency)
	} else {
		m[keyUrgency] = nil
	}
	m[keyIssueSummary] = deref(r.IssueSummary)
	m[keyTenantName] = deref(r.TenantName)
	m[keyPropertyAddress] = deref(r.PropertyAddress)
	m[keyUnit] = deref(r.Unit)
	m[keyTicketID] = deref(r.MaintenanceTicketID)
	m[keyError] = deref(r.Error)
	return m
}

func (r ClassificationResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.ToMap())
}

func (r *ClassificationResult) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*r = *ClassificationFromMap(m)
	return nil
}

// Clone returns a copy whose Extra map can be mutated independently.
func (r *ClassificationResult) Clone() *ClassificationResult {
	c := *r
	if r.Extra != nil {
		c.Extra = make(map[string]any, len(r.Extra))
		for k, v := range r.Extra {
			c.Extra[k] = v
		}
	}
	return &c
}

// UrgencyOr returns the urgency or fallback when unknown.
func (r *ClassificationResult) UrgencyOr(fallback Urgency) Urgency {
	if r.Urgency == nil {
		return fallback
	}
	return *r.Urgency
}

func deref(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func stringOf(v any) string {
	if s := optionalString(v); s != nil {
		return *s
	}
	return ""
}

// optionalString accepts the scalar shapes models tend to emit.
func optionalString(v any) *string {
	var s string
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		s = strings.TrimSpace(t)
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case bool, int, int64:
		s = fmt.Sprint(t)
	default:
		return nil
	}
	if s == "" || strings.EqualFold(s, "null") {
		return nil
	}
	return &s
}

// StringPtr is a small helper for literals.
func StringPtr(s string) *string { return &s }
