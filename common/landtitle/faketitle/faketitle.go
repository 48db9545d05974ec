// Package faketitle generates realistic, valid land-title submissions.
package faketitle

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/helm-app/landregistry/common/landtitle"
)

var documentTypes = []struct {
	ext  string
	mime string
}{
	{"pdf", "application/pdf"},
	{"png", "image/png"},
	{"jpg", "image/jpeg"},
	{"tiff", "image/tiff"},
}

var documentNames = []string{"deed", "survey-plan", "tax-declaration", "tct-copy", "affidavit", "vicinity-map"}

// Fields returns a record that passes landtitle.ValidateFields.
func Fields(f *gofakeit.Faker) landtitle.Fields {
	regDate := f.DateRange(
		time.Date(1950, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC),
	)
	fields := landtitle.Fields{
		OwnerName:        f.Name(),
		ContactNo:        "09" + f.Numerify("#########"),
		Address:          f.Street() + ", " + f.RandomString(landtitle.NCRCities),
		EmailAddress:     strings.ToLower(f.Lexify("????????")) + "@example.ph",
		PropertyLocation: f.RandomString(landtitle.NCRCities),
		LotNumber:        json.Number(strconv.Itoa(f.Number(1, 9999))),
		AreaSize:         json.Number(strconv.FormatFloat(float64(f.Number(5000, 500000))/100, 'f', -1, 64)),
		Classification:   landtitle.Classifications[f.Number(0, len(landtitle.Classifications)-1)],
		RegistrationDate: regDate.Format(landtitle.DateLayout),
		RegistrarOffice:  f.RandomString(landtitle.NCRCities),
		Status:           landtitle.Statuses[f.Number(0, len(landtitle.Statuses)-1)],
	}
	if f.Bool() {
		fields.TitleNumber = fmt.Sprintf("T-%06d", f.Number(1, 999999))
		fields.SurveyNumber = fmt.Sprintf("S-%05d", f.Number(1, 99999))
	}
	if f.Bool() {
		fields.PreviousTitleNumber = fmt.Sprintf("T-%06d", f.Number(1, 999999))
	}
	if f.Bool() {
		fields.Encumbrances = f.Sentence(6)
	}
	return fields
}

// Attachment returns a document of 1 to maxBytes random bytes.
func Attachment(f *gofakeit.Faker, maxBytes int) landtitle.Attachment {
	if maxBytes < 1 {
		maxBytes = 1
	}
	doc := documentTypes[f.Number(0, len(documentTypes)-1)]
	data := make([]byte, f.Number(1, maxBytes))
	_, _ = f.Rand.Read(data)
	return landtitle.Attachment{
		OriginalName: fmt.Sprintf("%s-%d.%s", f.RandomString(documentNames), f.Number(1, 99), doc.ext),
		ContentType:  doc.mime,
		Data:         data,
	}
}

// Submission returns a valid submission with up to maxAttachments attachments.
func Submission(f *gofakeit.Faker, maxAttachments int) landtitle.Submission {
	s := landtitle.Submission{
		ID:         f.UUID(),
		Fields:     Fields(f),
		ReceivedAt: f.DateRange(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)).UTC(),
	}
	if maxAttachments > 0 {
		for i := f.Number(0, maxAttachments); i > 0; i-- {
			s.Attachments = append(s.Attachments, Attachment(f, 4096))
		}
	}
	return s
}

// Raw renders fields as the string map a form post would carry.
func Raw(fields landtitle.Fields) map[string]any {
	raw := map[string]any{
		"owner_name":        fields.OwnerName,
		"contact_no":        fields.ContactNo,
		"address":           fields.Address,
		"email_address":     fields.EmailAddress,
		"property_location": fields.PropertyLocation,
		"lot_number":        fields.LotNumber.String(),
		"area_size":         fields.AreaSize.String(),
		"classification":    string(fields.Classification),
		"registration_date": fields.RegistrationDate,
		"registrar_office":  fields.RegistrarOffice,
		"status":            string(fields.Status),
	}
	optional := map[string]string{
		"title_number":          fields.TitleNumber,
		"survey_number":         fields.SurveyNumber,
		"previous_title_number": fields.PreviousTitleNumber,
		"encumbrances":          fields.Encumbrances,
	}
	for k, v := range optional {
		if v != "" {
			raw[k] = v
		}
	}
	return raw
}
