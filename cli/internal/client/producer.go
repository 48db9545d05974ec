package client

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sort"
)

// File is an attachment to upload.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// SubmitResponse is the producer's answer to an accepted submission.
type SubmitResponse struct {
	Message      string `json:"message"`
	SubmissionID string `json:"submission_id"`
}

type ProducerClient struct {
	baseClient
}

func NewProducerClient(baseURL, token string) *ProducerClient {
	return &ProducerClient{baseClient: newBaseClient(baseURL, token)}
}

// Submit posts fields and files to /register as multipart/form-data.
func (c *ProducerClient) Submit(ctx context.Context, fields map[string]string, files []File) (*SubmitResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := mw.WriteField(k, fields[k]); err != nil {
			return nil, err
		}
	}

	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="attachments"; filename=%q`, f.Name))
		ct := f.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		part, err := mw.CreatePart(h)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/register", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out SubmitResponse
	if err := c.do(ctx, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
