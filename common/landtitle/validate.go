package landtitle

import (
	"errors"
	"fmt"
	"math"
	"net/mail"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrTooManyAttachments is wrapped when a submission carries more than Limits.MaxAttachments.
	ErrTooManyAttachments = errors.New("too many attachments")

	// ErrAttachmentTooLarge is wrapped when one attachment exceeds Limits.MaxAttachmentBytes.
	ErrAttachmentTooLarge = errors.New("attachment too large")
)

// Limits caps attachment count and size.
type Limits struct {
	MaxAttachments     int
	MaxAttachmentBytes int64
}

// DefaultLimits allows 5 attachments of up to 10 MiB each.
func DefaultLimits() Limits {
	return Limits{MaxAttachments: 5, MaxAttachmentBytes: 10 << 20}
}

// FieldError describes one rejected field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every field that failed validation.
type ValidationError struct {
	Errors []FieldError
	causes []error
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Unwrap exposes ErrValidation and any specific sentinel causes.
func (e *ValidationError) Unwrap() []error {
	return append([]error{ErrValidation}, e.causes...)
}

// Has reports whether field failed.
func (e *ValidationError) Has(field string) bool {
	for _, fe := range e.Errors {
		if fe.Field == field {
			return true
		}
	}
	return false
}

const msgInvalidUTF8 = "Must be valid UTF-8"

type textField struct {
	name, value string
}

// textFields lists the free-text fields by wire name, in declaration order.
func (f Fields) textFields() []textField {
	return []textField{
		{"owner_name", f.OwnerName},
		{"contact_no", f.ContactNo},
		{"address", f.Address},
		{"email_address", f.EmailAddress},
		{"title_number", f.TitleNumber},
		{"survey_number", f.SurveyNumber},
		{"property_location", f.PropertyLocation},
		{"classification", string(f.Classification)},
		{"registration_date", f.RegistrationDate},
		{"registrar_office", f.RegistrarOffice},
		{"previous_title_number", f.PreviousTitleNumber},
		{"encumbrances", f.Encumbrances},
		{"status", string(f.Status)},
	}
}

// ValidText reports whether every string in s, including attachment names
// and types, is valid UTF-8.
func (s Submission) ValidText() bool {
	for _, tf := range s.Fields.textFields() {
		if !utf8.ValidString(tf.value) {
			return false
		}
	}
	for _, a := range s.Attachments {
		if !utf8.ValidString(a.OriginalName) || !utf8.ValidString(a.ContentType) {
			return false
		}
	}
	return true
}

type collector struct {
	errs   []FieldError
	causes []error
}

func (c *collector) add(field, msg string) {
	c.errs = append(c.errs, FieldError{Field: field, Message: msg})
}

// firstPerField keeps only the first error reported for each field.
func (c *collector) firstPerField() {
	seen := make(map[string]bool, len(c.errs))
	kept := c.errs[:0]
	for _, fe := range c.errs {
		if seen[fe.Field] {
			continue
		}
		seen[fe.Field] = true
		kept = append(kept, fe)
	}
	c.errs = kept
}

func (c *collector) err() error {
	if len(c.errs) == 0 {
		return nil
	}
	return &ValidationError{Errors: c.errs, causes: c.causes}
}

// Validate checks fields and attachments against the registration rules.
func Validate(s Submission, lim Limits) error {
	c := &collector{}
	checkFields(c, s.Fields)
	checkAttachments(c, s.Attachments, lim)
	return c.err()
}

// ValidateFields checks the field rules only.
func ValidateFields(f Fields) error {
	c := &collector{}
	checkFields(c, f)
	return c.err()
}

func checkFields(c *collector, f Fields) {
	for _, tf := range f.textFields() {
		if !utf8.ValidString(tf.value) {
			c.add(tf.name, msgInvalidUTF8)
		}
	}
	if f.OwnerName == "" {
		c.add("owner_name", "Required")
	}
	if len([]rune(f.ContactNo)) < 7 {
		c.add("contact_no", "Must be a valid number")
	}
	if f.Address == "" {
		c.add("address", "Required")
	}
	if !validEmail(f.EmailAddress) {
		c.add("email_address", "Invalid email")
	}
	if !slices.Contains(NCRCities, f.PropertyLocation) {
		c.add("property_location", "Select NCR city")
	}
	if _, err := parseNumber(f.LotNumber.String()); err != nil {
		c.add("lot_number", "Lot number must be a number")
	}
	if _, err := parseNumber(f.AreaSize.String()); err != nil {
		c.add("area_size", "Area size must be a number")
	}
	if !slices.Contains(Classifications, f.Classification) {
		c.add("classification", fmt.Sprintf("Invalid enum value. Expected %s", quoteList(Classifications)))
	}
	if t, err := f.RegistrationTime(); err != nil || t.Year() < 1900 {
		c.add("registration_date", "Must be a valid date after 1900")
	}
	if !slices.Contains(NCRCities, f.RegistrarOffice) {
		c.add("registrar_office", "Select NCR city")
	}
	if !slices.Contains(Statuses, f.Status) {
		c.add("status", fmt.Sprintf("Invalid enum value. Expected %s", quoteList(Statuses)))
	}
}

func checkAttachments(c *collector, atts []Attachment, lim Limits) {
	if lim.MaxAttachments > 0 && len(atts) > lim.MaxAttachments {
		c.add("attachments", fmt.Sprintf("At most %d attachments allowed", lim.MaxAttachments))
		c.causes = append(c.causes, ErrTooManyAttachments)
	}
	for i, a := range atts {
		field := fmt.Sprintf("attachments[%d]", i)
		switch {
		case strings.TrimSpace(a.OriginalName) == "":
			c.add(field, "File name is required")
		case !utf8.ValidString(a.OriginalName), !utf8.ValidString(a.ContentType):
			c.add(field, "File name and type must be valid UTF-8")
		}
		if lim.MaxAttachmentBytes > 0 && int64(a.Size()) > lim.MaxAttachmentBytes {
			c.add(field, fmt.Sprintf("File exceeds %d bytes", lim.MaxAttachmentBytes))
			c.causes = append(c.causes, ErrAttachmentTooLarge)
		}
	}
}

func validEmail(s string) bool {
	if s == "" {
		return false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return false
	}
	at := strings.LastIndexByte(s, '@')
	domain := s[at+1:]
	return strings.Contains(domain, ".") && !strings.HasPrefix(domain, ".") && !strings.HasSuffix(domain, ".")
}

// parseNumber accepts a finite decimal number and returns its canonical form.
func parseNumber(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errors.New("empty number")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return "", err
	}
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return "", errors.New("number is not finite")
	}
	return strconv.FormatFloat(f, 'f', -1, 64), nil
}

var dateLayouts = []string{
	DateLayout,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
}

// parseDate accepts the common date spellings and returns the canonical form.
func parseDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() < 1900 {
				return "", errors.New("date before 1900")
			}
			return t.Format(DateLayout), nil
		}
	}
	return "", fmt.Errorf("unrecognized date %q", s)
}

func quoteList[T ~string](vals []T) string {
	quoted := make([]string, len(vals))
	for i, v := range vals {
		quoted[i] = "'" + string(v) + "'"
	}
	return strings.Join(quoted, " | ")
}
