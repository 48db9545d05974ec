package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/helm-app/landregistry/common/landtitle"
)

// Registration is a stored registration as served by the consumer.
type Registration struct {
	ID           int64  `json:"id"`
	SubmissionID string `json:"submission_id"`
	landtitle.Fields
	ReceivedAt      time.Time    `json:"received_at"`
	CreatedAt       time.Time    `json:"created_at"`
	AttachmentCount int          `json:"attachment_count"`
	Attachments     []Attachment `json:"attachments,omitempty"`
}

type Attachment struct {
	Position     int    `json:"position"`
	OriginalName string `json:"original_name"`
	ContentType  string `json:"content_type"`
	Size         int64  `json:"size"`
	ObjectKey    string `json:"object_key,omitempty"`
}

type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total,omitempty"`
}

type RegistrationPage struct {
	Registrations []Registration `json:"registrations"`
	Pagination    Pagination     `json:"pagination"`
}

// DeadLetter is one entry of the consumer's dead letter stream.
type DeadLetter struct {
	Sequence     uint64    `json:"sequence"`
	Timestamp    time.Time `json:"timestamp"`
	SubmissionID string    `json:"submission_id,omitempty"`
	Reason       string    `json:"reason"`
	Error        string    `json:"error,omitempty"`
	Attempts     int       `json:"attempts"`
	Size         int       `json:"size"`
}

type DeadLetterStats struct {
	Enabled  bool   `json:"enabled"`
	Backend  string `json:"backend"`
	Messages uint64 `json:"total_messages"`
	Bytes    uint64 `json:"total_bytes"`
	Error    string `json:"error,omitempty"`
}

type DeadLetterList struct {
	Stats   DeadLetterStats `json:"stats"`
	Entries []DeadLetter    `json:"entries"`
}

type ConsumerClient struct {
	baseClient
}

func NewConsumerClient(baseURL, token string) *ConsumerClient {
	return &ConsumerClient{baseClient: newBaseClient(baseURL, token)}
}

func (c *ConsumerClient) ListRegistrations(ctx context.Context, page, limit int) (*RegistrationPage, error) {
	q := url.Values{}
	q.Set("page", fmt.Sprint(page))
	q.Set("limit", fmt.Sprint(limit))

	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/registrations?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var out RegistrationPage
	if err := c.do(ctx, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *ConsumerClient) GetRegistration(ctx context.Context, submissionID string) (*Registration, error) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/registrations/"+url.PathEscape(submissionID), nil)
	if err != nil {
		return nil, err
	}
	var out Registration
	if err := c.do(ctx, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *ConsumerClient) ListDeadLetters(ctx context.Context, limit int) (*DeadLetterList, error) {
	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/dlq?limit=%d", c.baseURL, limit), nil)
	if err != nil {
		return nil, err
	}
	var out DeadLetterList
	if err := c.do(ctx, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
