package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helm-app/landregistry/common/httputil"
	"github.com/helm-app/landregistry/common/landtitle"
	"github.com/helm-app/landregistry/common/messaging"
	"github.com/helm-app/landregistry/producer/internal/service"
)

type mockSubmitter struct {
	result service.Result
	err    error

	calls int
	last  service.RawSubmission
}

func (m *mockSubmitter) Submit(_ context.Context, raw service.RawSubmission) (service.Result, error) {
	m.calls++
	m.last = raw
	return m.result, m.err
}

type mockHealth struct {
	state messaging.ConnState
	err   error
}

func (m *mockHealth) CheckHealth(context.Context) error { return m.err }
func (m *mockHealth) State() messaging.ConnState        { return m.state }

func accepted() *mockSubmitter {
	return &mockSubmitter{result: service.Result{Accepted: true, SubmissionID: "sub-1"}}
}

func TestRegister_JSON(t *testing.T) {
	sub := accepted()
	h := NewRegisterHandler(sub, nil, 1<<20, nil)

	body := `{
		"owner_name": "Maria Santos",
		"lot_number": 12,
		"attachments": [
			{"originalname": "deed.pdf", "mimetype": "application/pdf", "buffer": "` + base64.StdEncoding.EncodeToString([]byte("%PDF")) + `"},
			{"originalname": "map.bin", "buffer": ""}
		]
	}`
	req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.Register(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp registerResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "Message queued", resp.Message)
	assert.Equal(t, "sub-1", resp.SubmissionID)

	assert.Equal(t, "Maria Santos", sub.last.Fields["owner_name"])
	assert.Equal(t, json.Number("12"), sub.last.Fields["lot_number"])
	assert.NotContains(t, sub.last.Fields, "attachments")
	require.Len(t, sub.last.Attachments, 2)
	assert.Equal(t, landtitle.Attachment{OriginalName: "deed.pdf", ContentType: "application/pdf", Data: []byte("%PDF")}, sub.last.Attachments[0])
	assert.Equal(t, "application/octet-stream", sub.last.Attachments[1].ContentType)
}

func multipartBody(t *testing.T, values map[string]string, files map[string][]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range values {
		require.NoError(t, mw.WriteField(k, v))
	}
	for field, names := range files {
		for _, name := range names {
			hdr := textproto.MIMEHeader{}
			hdr.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+name+`"`)
			hdr.Set("Content-Type", "image/png")
			part, err := mw.CreatePart(hdr)
			require.NoError(t, err)
			_, err = part.Write([]byte("png:" + name))
			require.NoError(t, err)
		}
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestRegister_Multipart(t *testing.T) {
	t.Run("flat fields", func(t *testing.T) {
		sub := accepted()
		h := NewRegisterHandler(sub, nil, 1<<20, nil)

		body, ct := multipartBody(t,
			map[string]string{"owner_name": "Jose Rizal", "area_size": "80.25"},
			map[string][]string{"attachments": {"a.png", "b.png"}})
		req := httptest.NewRequest(http.MethodPost, "/register", body)
		req.Header.Set("Content-Type", ct)
		rr := httptest.NewRecorder()
		h.Register(rr, req)

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.Equal(t, "Jose Rizal", sub.last.Fields["owner_name"])
		assert.Equal(t, "80.25", sub.last.Fields["area_size"])
		require.Len(t, sub.last.Attachments, 2)
		assert.Equal(t, "image/png", sub.last.Attachments[0].ContentType)
		assert.Equal(t, []byte("png:a.png"), sub.last.Attachments[0].Data)
	})

	t.Run("payload field", func(t *testing.T) {
		sub := accepted()
		h := NewRegisterHandler(sub, nil, 1<<20, nil)

		body, ct := multipartBody(t, map[string]string{"payload": `{"owner_name":"Ana","lot_number":3}`}, nil)
		req := httptest.NewRequest(http.MethodPost, "/register", body)
		req.Header.Set("Content-Type", ct)
		rr := httptest.NewRecorder()
		h.Register(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "Ana", sub.last.Fields["owner_name"])
		assert.Equal(t, json.Number("3"), sub.last.Fields["lot_number"])
	})

	t.Run("unexpected file field", func(t *testing.T) {
		sub := accepted()
		h := NewRegisterHandler(sub, nil, 1<<20, nil)

		body, ct := multipartBody(t, map[string]string{"owner_name": "Ana"}, map[string][]string{"photo": {"x.png"}})
		req := httptest.NewRequest(http.MethodPost, "/register", body)
		req.Header.Set("Content-Type", ct)
		rr := httptest.NewRecorder()
		h.Register(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Zero(t, sub.calls)
		var resp httputil.ErrorResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		require.Len(t, resp.Errors, 1)
		assert.Equal(t, "photo", resp.Errors[0].Field)
	})
}

func TestRegister_Errors(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		contentType string
		body        string
		sub         *mockSubmitter
		wantStatus  int
		wantError   string
		wantCalls   int
	}{
		{
			name:       "wrong method",
			method:     http.MethodGet,
			sub:        accepted(),
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name:        "empty body",
			method:      http.MethodPost,
			contentType: "application/json",
			sub:         accepted(),
			wantStatus:  http.StatusBadRequest,
			wantError:   "Invalid payload",
		},
		{
			name:        "malformed json",
			method:      http.MethodPost,
			contentType: "application/json",
			body:        `{"owner_name":`,
			sub:         accepted(),
			wantStatus:  http.StatusBadRequest,
			wantError:   "Invalid payload",
		},
		{
			name:        "json array",
			method:      http.MethodPost,
			contentType: "application/json",
			body:        `[1,2]`,
			sub:         accepted(),
			wantStatus:  http.StatusBadRequest,
		},
		{
			name:        "unsupported content type",
			method:      http.MethodPost,
			contentType: "text/csv",
			body:        "a,b",
			sub:         accepted(),
			wantStatus:  http.StatusBadRequest,
		},
		{
			name:        "bad base64",
			method:      http.MethodPost,
			contentType: "application/json",
			body:        `{"attachments":[{"originalname":"a","buffer":"***"}]}`,
			sub:         accepted(),
			wantStatus:  http.StatusBadRequest,
			wantError:   "Validation failed",
		},
		{
			name:        "body over cap",
			method:      http.MethodPost,
			contentType: "application/json",
			body:        `{"owner_name":"` + strings.Repeat("x", 2048) + `"}`,
			sub:         accepted(),
			wantStatus:  http.StatusRequestEntityTooLarge,
		},
		{
			name:        "validation rejected",
			method:      http.MethodPost,
			contentType: "application/json",
			body:        `{}`,
			sub: &mockSubmitter{result: service.Result{
				Reason: service.ReasonValidation,
				Errors: []landtitle.FieldError{{Field: "owner_name", Message: "Required"}},
			}},
			wantStatus: http.StatusBadRequest,
			wantError:  "Validation failed",
			wantCalls:  1,
		},
		{
			name:        "broker not ready",
			method:      http.MethodPost,
			contentType: "application/json",
			body:        `{}`,
			sub:         &mockSubmitter{result: service.Result{Reason: service.ReasonUnavailable}},
			wantStatus:  http.StatusServiceUnavailable,
			wantCalls:   1,
		},
		{
			name:        "publish failure",
			method:      http.MethodPost,
			contentType: "application/json",
			body:        `{}`,
			sub:         &mockSubmitter{err: errors.New("nats: timeout")},
			wantStatus:  http.StatusInternalServerError,
			wantError:   "Internal Server Error",
			wantCalls:   1,
		},
		{
			name:        "envelope too large",
			method:      http.MethodPost,
			contentType: "application/json",
			body:        `{}`,
			sub:         &mockSubmitter{err: service.ErrPayloadTooLarge},
			wantStatus:  http.StatusRequestEntityTooLarge,
			wantCalls:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewRegisterHandler(tt.sub, nil, 1024, nil)
			req := httptest.NewRequest(tt.method, "/register", strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rr := httptest.NewRecorder()
			h.Register(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
			assert.Equal(t, tt.wantCalls, tt.sub.calls)
			if tt.wantError != "" {
				var resp httputil.ErrorResponse
				require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
				assert.Equal(t, tt.wantError, resp.Error)
			}
		})
	}
}

func TestRegister_ValidationBody(t *testing.T) {
	sub := &mockSubmitter{result: service.Result{
		Reason: service.ReasonValidation,
		Errors: []landtitle.FieldError{
			{Field: "email_address", Message: "Invalid email"},
			{Field: "attachments", Message: "At most 5 attachments allowed"},
		},
	}}
	h := NewRegisterHandler(sub, nil, 0, nil)

	req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(`{"email_address":"nope"}`))
	rr := httptest.NewRecorder()
	h.Register(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	var resp httputil.ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, []httputil.FieldIssue{
		{Field: "email_address", Message: "Invalid email"},
		{Field: "attachments", Message: "At most 5 attachments allowed"},
	}, resp.Errors)
}

func TestHealth(t *testing.T) {
	h := NewRegisterHandler(accepted(), &mockHealth{state: messaging.ConnFatal}, 0, nil)

	rr := httptest.NewRecorder()
	h.Health(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code, "liveness does not depend on the broker")
	assert.JSONEq(t, `{"status":"ok","service":"producer"}`, rr.Body.String())

	rr = httptest.NewRecorder()
	h.Health(rr, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestReady(t *testing.T) {
	tests := []struct {
		name       string
		health     messaging.HealthChecker
		wantStatus int
		wantState  string
	}{
		{name: "connected", health: &mockHealth{state: messaging.ConnConnected}, wantStatus: http.StatusOK, wantState: "connected"},
		{name: "reconnecting", health: &mockHealth{state: messaging.ConnReconnecting}, wantStatus: http.StatusServiceUnavailable, wantState: "reconnecting"},
		{name: "flush fails", health: &mockHealth{state: messaging.ConnConnected, err: errors.New("timeout")}, wantStatus: http.StatusServiceUnavailable, wantState: "connected"},
		{name: "no broker", health: nil, wantStatus: http.StatusServiceUnavailable, wantState: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewRegisterHandler(accepted(), tt.health, 0, nil)
			rr := httptest.NewRecorder()
			h.Ready(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			assert.Equal(t, tt.wantStatus, rr.Code)
			var resp readyResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
			assert.Equal(t, tt.wantState, resp.Broker.State)
		})
	}
}
