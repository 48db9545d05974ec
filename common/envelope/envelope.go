// Package envelope converts a landtitle.Submission to and from the bytes
// carried on the durable queue.
//
// Wire format: one JSON object with the record fields at the top level,
// plus submission_id, received_at and an attachments array whose items carry
// originalname, mimetype, size and a standard base64 buffer.
package envelope

import (
	"bytes"
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/helm-app/landregistry/common/landtitle"
)

// ErrDecode matches every *DecodeError.
var ErrDecode = errors.New("envelope: decode failed")

// ErrInvalidText is returned by Encode when a field or attachment name is not
// valid UTF-8. JSON would replace such bytes and the decoded submission would differ.
var ErrInvalidText = errors.New("envelope: text is not valid UTF-8")

// DecodeError reports a malformed envelope. It is never retryable.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return "envelope: " + e.Reason
	}
	return fmt.Sprintf("envelope: %s: %v", e.Reason, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrDecode) true for any *DecodeError.
func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

//go:embed schema/envelope.schema.json
var schemaJSON []byte

const schemaURL = "envelope.schema.json"

var schema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
		panic(fmt.Sprintf("envelope: load schema: %v", err))
	}
	s, err := c.Compile(schemaURL)
	if err != nil {
		panic(fmt.Sprintf("envelope: compile schema: %v", err))
	}
	return s
}

type wire struct {
	SubmissionID string    `json:"submission_id"`
	ReceivedAt   time.Time `json:"received_at"`
	landtitle.Fields
	Attachments []wireAttachment `json:"attachments"`
}

type wireAttachment struct {
	OriginalName string `json:"originalname"`
	MimeType     string `json:"mimetype"`
	Size         int    `json:"size"`
	Buffer       string `json:"buffer"`
}

// Encode serialises s. Output is deterministic for a given s; ReceivedAt is
// written in UTC.
func Encode(s landtitle.Submission) ([]byte, error) {
	if s.ID == "" {
		return nil, errors.New("envelope: submission has no ID")
	}
	if !s.ValidText() {
		return nil, ErrInvalidText
	}
	w := wire{
		SubmissionID: s.ID,
		ReceivedAt:   s.ReceivedAt.UTC(),
		Fields:       s.Fields,
		Attachments:  make([]wireAttachment, 0, len(s.Attachments)),
	}
	for _, a := range s.Attachments {
		w.Attachments = append(w.Attachments, wireAttachment{
			OriginalName: a.OriginalName,
			MimeType:     a.ContentType,
			Size:         a.Size(),
			Buffer:       base64.StdEncoding.EncodeToString(a.Data),
		})
	}

	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("envelope: encode: %w", err)
	}
	return data, nil
}

// Decode parses and schema-checks data. Any failure is a *DecodeError.
// Domain rules are not applied here; see landtitle.Validate.
func Decode(data []byte) (landtitle.Submission, error) {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return landtitle.Submission{}, &DecodeError{Reason: "invalid JSON", Err: err}
	}
	if dec.More() {
		return landtitle.Submission{}, &DecodeError{Reason: "trailing data after envelope"}
	}
	if err := schema.Validate(doc); err != nil {
		return landtitle.Submission{}, &DecodeError{Reason: "schema violation", Err: err}
	}

	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return landtitle.Submission{}, &DecodeError{Reason: "unmarshal", Err: err}
	}

	s := landtitle.Submission{
		ID:         w.SubmissionID,
		Fields:     w.Fields,
		ReceivedAt: w.ReceivedAt.UTC(),
	}
	for i, a := range w.Attachments {
		buf, err := base64.StdEncoding.DecodeString(a.Buffer)
		if err != nil {
			return landtitle.Submission{}, &DecodeError{Reason: fmt.Sprintf("attachments[%d]: invalid base64", i), Err: err}
		}
		if len(buf) != a.Size {
			return landtitle.Submission{}, &DecodeError{
				Reason: fmt.Sprintf("attachments[%d]: size %d does not match %d decoded bytes", i, a.Size, len(buf)),
			}
		}
		s.Attachments = append(s.Attachments, landtitle.Attachment{
			OriginalName: a.OriginalName,
			ContentType:  a.MimeType,
			Data:         buf,
		})
	}
	return s, nil
}

// PeekID returns the submission_id of data without validating the rest,
// or "" if it cannot be read.
func PeekID(data []byte) string {
	var probe struct {
		SubmissionID string `json:"submission_id"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return ""
	}
	return probe.SubmissionID
}
