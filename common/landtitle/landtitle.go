// Package landtitle defines the land-title registration record shared by the
// producer and consumer, together with the rules a record must satisfy.
package landtitle

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Classification is the property classification.
type Classification string

const (
	ClassificationResidential Classification = "Residential"
	ClassificationCorporate   Classification = "Corporate"
	ClassificationGovernment  Classification = "Government Property"
)

// Classifications lists the accepted classifications.
var Classifications = []Classification{
	ClassificationResidential,
	ClassificationCorporate,
	ClassificationGovernment,
}

// Status is the title status.
type Status string

const (
	StatusActive             Status = "Active"
	StatusCancelled          Status = "Cancelled"
	StatusPending            Status = "Pending"
	StatusUnderInvestigation Status = "Under Investigation"
)

// DefaultStatus is applied when a submission omits status.
const DefaultStatus = StatusPending

// Statuses lists the accepted statuses.
var Statuses = []Status{StatusActive, StatusCancelled, StatusPending, StatusUnderInvestigation}

// NCRCities are the cities accepted for property_location and registrar_office.
var NCRCities = []string{
	"Manila", "Quezon City", "Makati", "Taguig", "Pasig", "Mandaluyong",
	"Caloocan", "Parañaque", "Las Piñas", "Pasay", "San Juan", "Marikina",
	"Valenzuela", "Malabon", "Navotas", "Pateros", "Muntinlupa",
}

// DateLayout is the canonical form of RegistrationDate.
const DateLayout = "2006-01-02"

// Fields is a typed land-title record. Optional fields are empty when absent.
// LotNumber and AreaSize hold canonical decimal strings.
type Fields struct {
	OwnerName           string         `json:"owner_name"`
	ContactNo           string         `json:"contact_no"`
	Address             string         `json:"address"`
	EmailAddress        string         `json:"email_address"`
	TitleNumber         string         `json:"title_number,omitempty"`
	SurveyNumber        string         `json:"survey_number,omitempty"`
	PropertyLocation    string         `json:"property_location"`
	LotNumber           json.Number    `json:"lot_number"`
	AreaSize            json.Number    `json:"area_size"`
	Classification      Classification `json:"classification"`
	RegistrationDate    string         `json:"registration_date"`
	RegistrarOffice     string         `json:"registrar_office"`
	PreviousTitleNumber string         `json:"previous_title_number,omitempty"`
	Encumbrances        string         `json:"encumbrances,omitempty"`
	Status              Status         `json:"status"`
}

// RegistrationTime parses RegistrationDate.
func (f Fields) RegistrationTime() (time.Time, error) {
	return time.Parse(DateLayout, f.RegistrationDate)
}

// Attachment is one uploaded document.
type Attachment struct {
	OriginalName string
	ContentType  string
	Data         []byte
}

// Size returns the attachment length in bytes.
func (a Attachment) Size() int { return len(a.Data) }

// Submission is one registration request as it travels through the relay.
type Submission struct {
	// ID is assigned by the producer and is the idempotency key downstream.
	ID          string
	Fields      Fields
	Attachments []Attachment
	ReceivedAt  time.Time
}

// TotalAttachmentBytes sums the attachment sizes.
func (s Submission) TotalAttachmentBytes() int64 {
	var n int64
	for _, a := range s.Attachments {
		n += int64(a.Size())
	}
	return n
}

// WithGeneratedNumbers fills TitleNumber and SurveyNumber when they are empty.
// Generated numbers are derived from the registration year and submission ID,
// so redeliveries of the same submission generate the same numbers.
func (s Submission) WithGeneratedNumbers() Submission {
	year := s.ReceivedAt.UTC().Year()
	if t, err := s.Fields.RegistrationTime(); err == nil {
		year = t.Year()
	}
	suffix := strings.ToUpper(strings.ReplaceAll(s.ID, "-", ""))
	if len(suffix) > 8 {
		suffix = suffix[len(suffix)-8:]
	}

	if s.Fields.TitleNumber == "" {
		s.Fields.TitleNumber = fmt.Sprintf("TCT-%d-%s", year, suffix)
	}
	if s.Fields.SurveyNumber == "" {
		s.Fields.SurveyNumber = fmt.Sprintf("SN-%d-%s", year, suffix)
	}
	return s
}
