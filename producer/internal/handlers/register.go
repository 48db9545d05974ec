package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/helm-app/landregistry/common/httputil"
	"github.com/helm-app/landregistry/common/landtitle"
	"github.com/helm-app/landregistry/common/logging"
	"github.com/helm-app/landregistry/common/messaging"
	"github.com/helm-app/landregistry/producer/internal/service"
)

const (
	// attachmentField is the multipart field carrying files.
	attachmentField = "attachments"

	// payloadField optionally carries the record as one JSON document.
	payloadField = "payload"

	multipartMemory = 32 << 20
)

// Submitter is the relay the handler forwards submissions to.
type Submitter interface {
	Submit(ctx context.Context, raw service.RawSubmission) (service.Result, error)
}

// RegisterHandler serves the producer HTTP API.
type RegisterHandler struct {
	relay      Submitter
	health     messaging.HealthChecker
	maxBody    int64
	logger     *slog.Logger
	serviceTag string
}

// NewRegisterHandler creates the handler. maxBody caps request bodies.
func NewRegisterHandler(relay Submitter, health messaging.HealthChecker, maxBody int64, logger *slog.Logger) *RegisterHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RegisterHandler{
		relay:      relay,
		health:     health,
		maxBody:    maxBody,
		logger:     logger.With(slog.String(logging.FieldComponent, "register-handler")),
		serviceTag: "producer",
	}
}

type registerResponse struct {
	Message      string `json:"message"`
	SubmissionID string `json:"submission_id"`
}

// Register handles POST /register.
func (h *RegisterHandler) Register(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}

	raw, issues, err := h.readSubmission(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteErrorDetail(w, http.StatusRequestEntityTooLarge, "Payload too large",
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		httputil.WriteErrorDetail(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	if len(issues) > 0 {
		httputil.WriteValidationError(w, "Validation failed", issues)
		return
	}

	res, err := h.relay.Submit(r.Context(), raw)
	if err != nil {
		if errors.Is(err, service.ErrPayloadTooLarge) {
			httputil.WriteErrorDetail(w, http.StatusRequestEntityTooLarge, "Payload too large", err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "failed to queue submission", logging.Error(err))
		httputil.WriteErrorDetail(w, http.StatusInternalServerError, "Internal Server Error", "failed to queue submission")
		return
	}

	switch res.Reason {
	case service.ReasonValidation:
		issues := make([]httputil.FieldIssue, 0, len(res.Errors))
		for _, fe := range res.Errors {
			issues = append(issues, httputil.FieldIssue{Field: fe.Field, Message: fe.Message})
		}
		httputil.WriteValidationError(w, "Validation failed", issues)
		return
	case service.ReasonUnavailable:
		httputil.WriteError(w, http.StatusServiceUnavailable, "Message broker not ready")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, registerResponse{
		Message:      "Message queued",
		SubmissionID: res.SubmissionID,
	})
}

// readSubmission extracts fields and attachments from either body shape.
// Structural problems with individual parts are returned as issues; a
// body that cannot be read at all is returned as err.
func (h *RegisterHandler) readSubmission(r *http.Request) (service.RawSubmission, []httputil.FieldIssue, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		mediaType = ""
	}

	switch mediaType {
	case "multipart/form-data":
		return readMultipart(r)
	case "application/json", "":
		return readJSON(r.Body)
	default:
		return service.RawSubmission{}, nil, fmt.Errorf("unsupported content type %q", mediaType)
	}
}

func readMultipart(r *http.Request) (service.RawSubmission, []httputil.FieldIssue, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return service.RawSubmission{}, nil, err
	}
	form := r.MultipartForm
	defer form.RemoveAll()

	var raw service.RawSubmission
	var issues []httputil.FieldIssue

	if payload, ok := form.Value[payloadField]; ok && len(payload) > 0 {
		fields, err := decodeObject([]byte(payload[0]))
		if err != nil {
			issues = append(issues, httputil.FieldIssue{Field: payloadField, Message: "Must be a JSON object"})
		}
		raw.Fields = fields
	} else {
		raw.Fields = landtitle.FormValues(form.Value)
	}

	for name, files := range form.File {
		if name != attachmentField {
			issues = append(issues, httputil.FieldIssue{Field: name, Message: "Unexpected file field"})
			continue
		}
		for i, fh := range files {
			f, err := fh.Open()
			if err != nil {
				return raw, nil, fmt.Errorf("open attachment %d: %w", i, err)
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				return raw, nil, fmt.Errorf("read attachment %d: %w", i, err)
			}
			contentType := fh.Header.Get("Content-Type")
			if contentType == "" {
				contentType = "application/octet-stream"
			}
			raw.Attachments = append(raw.Attachments, landtitle.Attachment{
				OriginalName: fh.Filename,
				ContentType:  contentType,
				Data:         data,
			})
		}
	}
	return raw, issues, nil
}

type jsonAttachment struct {
	OriginalName string `json:"originalname"`
	MimeType     string `json:"mimetype"`
	Buffer       string `json:"buffer"`
}

func readJSON(body io.Reader) (service.RawSubmission, []httputil.FieldIssue, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return service.RawSubmission{}, nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return service.RawSubmission{}, nil, errors.New("body is empty")
	}

	fields, err := decodeObject(data)
	if err != nil {
		return service.RawSubmission{}, nil, err
	}

	var raw service.RawSubmission
	var issues []httputil.FieldIssue
	if v, ok := fields[attachmentField]; ok {
		delete(fields, attachmentField)

		var atts []jsonAttachment
		encoded, _ := json.Marshal(v)
		if err := json.Unmarshal(encoded, &atts); err != nil {
			issues = append(issues, httputil.FieldIssue{Field: attachmentField, Message: "Must be an array of files"})
		}
		for i, a := range atts {
			buf, err := base64.StdEncoding.DecodeString(a.Buffer)
			if err != nil {
				issues = append(issues, httputil.FieldIssue{
					Field:   fmt.Sprintf("attachments[%d]", i),
					Message: "Buffer must be base64",
				})
				continue
			}
			contentType := a.MimeType
			if contentType == "" {
				contentType = "application/octet-stream"
			}
			raw.Attachments = append(raw.Attachments, landtitle.Attachment{
				OriginalName: a.OriginalName,
				ContentType:  contentType,
				Data:         buf,
			})
		}
	}
	raw.Fields = fields
	return raw, issues, nil
}

func decodeObject(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("decode JSON body: %w", err)
	}
	if obj == nil {
		return nil, errors.New("body must be a JSON object")
	}
	return obj, nil
}

type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// Health handles GET /health. It reports liveness only.
func (h *RegisterHandler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, healthResponse{Status: "ok", Service: h.serviceTag})
}

type readyResponse struct {
	Status  string                 `json:"status"`
	Service string                 `json:"service"`
	Broker  messaging.HealthStatus `json:"broker"`
}

// Ready handles GET /readyz: 200 only while the broker connection is usable.
func (h *RegisterHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	broker := messaging.CheckHealth(ctx, h.health)
	resp := readyResponse{Status: "ready", Service: h.serviceTag, Broker: broker}
	status := http.StatusOK
	if !broker.Connected {
		resp.Status = "not_ready"
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, resp)
}
