package landtitle

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ParseFields builds Fields from loosely typed input: multipart form values
// or a decoded JSON object. Numbers are coerced, strings are trimmed, the
// registration date is canonicalised and status defaults to Pending. Unknown
// keys are ignored. Every failing field is reported in one *ValidationError.
func ParseFields(raw map[string]any) (Fields, error) {
	c := &collector{}
	str := func(key string) string {
		v, ok := raw[key]
		if !ok || v == nil {
			return ""
		}
		s, ok := v.(string)
		if !ok {
			c.add(key, fmt.Sprintf("Expected string, received %s", typeName(v)))
			return ""
		}
		return strings.TrimSpace(s)
	}

	f := Fields{
		OwnerName:           str("owner_name"),
		ContactNo:           str("contact_no"),
		Address:             str("address"),
		EmailAddress:        str("email_address"),
		TitleNumber:         str("title_number"),
		SurveyNumber:        str("survey_number"),
		PropertyLocation:    str("property_location"),
		Classification:      Classification(str("classification")),
		RegistrarOffice:     str("registrar_office"),
		PreviousTitleNumber: str("previous_title_number"),
		Encumbrances:        str("encumbrances"),
		Status:              Status(str("status")),
	}
	if f.Status == "" {
		f.Status = DefaultStatus
	}

	// An uncoercible number is left empty and reported by checkFields.
	f.LotNumber = json.Number(coerceNumber(raw["lot_number"]))
	f.AreaSize = json.Number(coerceNumber(raw["area_size"]))

	if d, ok := raw["registration_date"].(string); ok {
		if canonical, err := parseDate(d); err == nil {
			f.RegistrationDate = canonical
		} else {
			f.RegistrationDate = strings.TrimSpace(d)
		}
	}

	checkFields(c, f)
	c.firstPerField()
	if err := c.err(); err != nil {
		return f, err
	}
	return f, nil
}

func coerceNumber(v any) string {
	var s string
	switch n := v.(type) {
	case string:
		s = n
	case json.Number:
		s = n.String()
	case float64:
		s = strconv.FormatFloat(n, 'f', -1, 64)
	case float32:
		s = strconv.FormatFloat(float64(n), 'f', -1, 32)
	case int:
		s = strconv.Itoa(n)
	case int64:
		s = strconv.FormatInt(n, 10)
	default:
		return ""
	}
	canonical, err := parseNumber(s)
	if err != nil {
		return ""
	}
	return canonical
}

func typeName(v any) string {
	switch v.(type) {
	case float64, float32, int, int64, json.Number:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// FormValues flattens multipart-style values (first value wins) into the map ParseFields expects.
func FormValues(values map[string][]string) map[string]any {
	out := make(map[string]any, len(values))
	for k, vs := range values {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	return out
}
