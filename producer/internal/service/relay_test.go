package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helm-app/landregistry/common/envelope"
	"github.com/helm-app/landregistry/common/landtitle"
	"github.com/helm-app/landregistry/common/messaging"
	msgnats "github.com/helm-app/landregistry/common/messaging/nats"
)

type fakePublisher struct {
	ready bool
	err   error

	published [][]byte
	opts      []messaging.PublishOptions
}

func (p *fakePublisher) Publish(_ context.Context, data []byte, opts ...messaging.PublishOption) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, data)
	p.opts = append(p.opts, messaging.NewPublishOptions(opts...))
	return nil
}

func (p *fakePublisher) IsReady() bool { return p.ready }

var fixedNow = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func newTestRelay(pub messaging.Publisher, opts Options) *Relay {
	if opts.Limits == (landtitle.Limits{}) {
		opts.Limits = landtitle.DefaultLimits()
	}
	opts.Now = func() time.Time { return fixedNow }
	if opts.NewID == nil {
		opts.NewID = func() (string, error) { return "01890a5d-ac96-774b-bcce-b302099a8057", nil }
	}
	return NewRelay(pub, opts, nil)
}

func validFields() map[string]any {
	return map[string]any{
		"owner_name":        "Maria Santos",
		"contact_no":        "09171234567",
		"address":           "12 Mabini St",
		"email_address":     "maria@example.ph",
		"property_location": "Makati",
		"lot_number":        "12",
		"area_size":         150.5,
		"classification":    "Residential",
		"registration_date": "2024-02-14",
		"registrar_office":  "Pasig",
	}
}

func TestSubmit_Accepted(t *testing.T) {
	pub := &fakePublisher{ready: true}
	relay := newTestRelay(pub, Options{})

	raw := RawSubmission{
		Fields: validFields(),
		Attachments: []landtitle.Attachment{
			{OriginalName: "deed.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.7")},
		},
	}

	res, err := relay.Submit(context.Background(), raw)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.False(t, res.Rejected())
	assert.Equal(t, "01890a5d-ac96-774b-bcce-b302099a8057", res.SubmissionID)

	require.Len(t, pub.published, 1)
	sub, err := envelope.Decode(pub.published[0])
	require.NoError(t, err)
	assert.Equal(t, res.SubmissionID, sub.ID)
	assert.Equal(t, fixedNow, sub.ReceivedAt)
	assert.Equal(t, "Maria Santos", sub.Fields.OwnerName)
	assert.Equal(t, "150.5", sub.Fields.AreaSize.String())
	assert.Equal(t, landtitle.StatusPending, sub.Fields.Status)
	require.Len(t, sub.Attachments, 1)
	assert.Equal(t, []byte("%PDF-1.7"), sub.Attachments[0].Data)

	assert.Equal(t, res.SubmissionID, pub.opts[0].MsgID)
	assert.Equal(t, res.SubmissionID, pub.opts[0].Headers[messaging.HeaderSubmissionID])
}

func TestSubmit_Rejected(t *testing.T) {
	tooMany := make([]landtitle.Attachment, 6)
	for i := range tooMany {
		tooMany[i] = landtitle.Attachment{OriginalName: "page.png", Data: []byte{1}}
	}

	tests := []struct {
		name       string
		fields     func() map[string]any
		atts       []landtitle.Attachment
		wantFields []string
	}{
		{
			name:       "missing owner",
			fields:     func() map[string]any { f := validFields(); delete(f, "owner_name"); return f },
			wantFields: []string{"owner_name"},
		},
		{
			name:       "non numeric lot",
			fields:     func() map[string]any { f := validFields(); f["lot_number"] = "abc"; return f },
			wantFields: []string{"lot_number"},
		},
		{
			name:       "too many attachments",
			fields:     validFields,
			atts:       tooMany,
			wantFields: []string{"attachments"},
		},
		{
			name: "field and attachment errors together",
			fields: func() map[string]any {
				f := validFields()
				f["property_location"] = "Cebu"
				return f
			},
			atts:       []landtitle.Attachment{{OriginalName: " ", Data: []byte{1}}},
			wantFields: []string{"property_location", "attachments[0]"},
		},
		{
			name: "non UTF-8 text",
			fields: func() map[string]any {
				f := validFields()
				f["encumbrances"] = "mortgage \xfe"
				return f
			},
			atts:       []landtitle.Attachment{{OriginalName: "deed\xff.pdf", Data: []byte{1}}},
			wantFields: []string{"encumbrances", "attachments[0]"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{ready: true}
			relay := newTestRelay(pub, Options{})

			res, err := relay.Submit(context.Background(), RawSubmission{Fields: tt.fields(), Attachments: tt.atts})
			require.NoError(t, err)
			assert.True(t, res.Rejected())
			assert.Equal(t, ReasonValidation, res.Reason)

			var got []string
			for _, fe := range res.Errors {
				got = append(got, fe.Field)
			}
			assert.Equal(t, tt.wantFields, got)
			assert.Empty(t, pub.published, "invalid submissions are never published")
		})
	}
}

func TestSubmit_BrokerNotReady(t *testing.T) {
	pub := &fakePublisher{ready: false}
	relay := newTestRelay(pub, Options{})

	res, err := relay.Submit(context.Background(), RawSubmission{Fields: validFields()})
	require.NoError(t, err)
	assert.Equal(t, ReasonUnavailable, res.Reason)
	assert.Empty(t, pub.published)
}

func TestSubmit_PublishErrors(t *testing.T) {
	tests := []struct {
		name       string
		pubErr     error
		wantReason RejectReason
		wantErr    error
	}{
		{name: "connection dropped mid publish", pubErr: messaging.ErrNotReady, wantReason: ReasonUnavailable},
		{name: "server payload limit", pubErr: msgnats.ErrMessageTooLarge, wantErr: ErrPayloadTooLarge},
		{name: "broker failure", pubErr: errors.New("nats: timeout")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			relay := newTestRelay(&fakePublisher{ready: true, err: tt.pubErr}, Options{})

			res, err := relay.Submit(context.Background(), RawSubmission{Fields: validFields()})
			if tt.wantReason != "" {
				require.NoError(t, err)
				assert.Equal(t, tt.wantReason, res.Reason)
				return
			}
			require.Error(t, err)
			assert.False(t, res.Accepted)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.ErrorIs(t, err, tt.pubErr)
			}
		})
	}
}

func TestSubmit_PayloadCap(t *testing.T) {
	pub := &fakePublisher{ready: true}
	relay := newTestRelay(pub, Options{MaxPayloadBytes: 256})

	_, err := relay.Submit(context.Background(), RawSubmission{
		Fields:      validFields(),
		Attachments: []landtitle.Attachment{{OriginalName: "scan.tiff", Data: make([]byte, 1024)}},
	})
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.Empty(t, pub.published)
}

func TestSubmit_IDFailure(t *testing.T) {
	relay := newTestRelay(&fakePublisher{ready: true}, Options{
		NewID: func() (string, error) { return "", errors.New("entropy exhausted") },
	})

	_, err := relay.Submit(context.Background(), RawSubmission{Fields: validFields()})
	assert.ErrorContains(t, err, "entropy exhausted")
}

func TestNewSubmissionID_IsV7(t *testing.T) {
	id, err := newSubmissionID()
	require.NoError(t, err)
	assert.Len(t, id, 36)
	assert.Equal(t, byte('7'), id[14])
}
