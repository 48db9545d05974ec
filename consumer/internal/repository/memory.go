package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/helm-app/landregistry/common/landtitle"
)

// InMemoryRepository is a Repository for local development and tests.
// It keeps attachment bytes inline and enforces the same uniqueness rule
// on submission IDs as the Postgres schema.
type InMemoryRepository struct {
	mu     sync.RWMutex
	nextID int64
	bySub  map[string]*Registration
	now    func() time.Time
}

var _ Repository = (*InMemoryRepository)(nil)

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		bySub: make(map[string]*Registration),
		now:   time.Now,
	}
}

func (r *InMemoryRepository) SaveRegistration(ctx context.Context, sub landtitle.Submission) (*Registration, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.bySub[sub.ID]; ok {
		return nil, ErrDuplicateSubmission
	}

	r.nextID++
	reg := newRegistration(sub)
	reg.ID = r.nextID
	reg.CreatedAt = r.now().UTC()
	for i, a := range sub.Attachments {
		reg.Attachments = append(reg.Attachments, AttachmentRecord{
			Position:     i,
			OriginalName: a.OriginalName,
			ContentType:  a.ContentType,
			Size:         int64(a.Size()),
			Data:         append([]byte(nil), a.Data...),
		})
	}
	r.bySub[sub.ID] = reg

	out := *reg
	return &out, nil
}

func (r *InMemoryRepository) GetRegistration(_ context.Context, submissionID string) (*Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.bySub[submissionID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *reg
	return &out, nil
}

func (r *InMemoryRepository) ListRegistrations(_ context.Context, limit, offset int) ([]Registration, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]Registration, 0, len(r.bySub))
	for _, reg := range r.bySub {
		out := *reg
		out.Attachments = nil
		all = append(all, out)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })

	total := len(all)
	offset = max(offset, 0)
	if offset >= total {
		return []Registration{}, total, nil
	}
	end := total
	if limit > 0 && limit < total-offset {
		end = offset + limit
	}
	return all[offset:end], total, nil
}

func (r *InMemoryRepository) Ping(context.Context) error { return nil }

func (r *InMemoryRepository) Close() error { return nil }
