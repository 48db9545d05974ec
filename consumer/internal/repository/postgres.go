package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/helm-app/landregistry/common/database"
	"github.com/helm-app/landregistry/common/landtitle"
)

// PostgresOptions configures a PostgresRepository.
type PostgresOptions struct {
	MaxConns int32

	// Blobs, when set, receives attachment bytes; only the object key is
	// stored in the database.
	Blobs BlobStore
}

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool  *pgxpool.Pool
	blobs BlobStore
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(ctx context.Context, connString string, opts PostgresOptions) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if opts.MaxConns > 0 {
		config.MaxConns = opts.MaxConns
	}
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool, blobs: opts.Blobs}, nil
}

// Ping checks database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the database connection pool
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

const insertRegistration = `
	INSERT INTO registrations (
		submission_id, owner_name, contact_no, address, email_address,
		title_number, survey_number, property_location, lot_number, area_size,
		classification, registration_date, registrar_office,
		previous_title_number, encumbrances, status, received_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	RETURNING id, created_at
`

const insertAttachment = `
	INSERT INTO registration_attachments (
		registration_id, position, original_name, content_type, size_bytes, object_key, data
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
`

// SaveRegistration writes the registration row and its attachment rows in
// one transaction. Blob uploads happen first, under deterministic keys.
func (r *PostgresRepository) SaveRegistration(ctx context.Context, sub landtitle.Submission) (*Registration, error) {
	f := sub.Fields
	regDate, err := f.RegistrationTime()
	if err != nil {
		return nil, fmt.Errorf("%w: registration_date: %v", ErrInvalidRecord, err)
	}
	lot, err := numeric(f.LotNumber)
	if err != nil {
		return nil, fmt.Errorf("%w: lot_number: %v", ErrInvalidRecord, err)
	}
	area, err := numeric(f.AreaSize)
	if err != nil {
		return nil, fmt.Errorf("%w: area_size: %v", ErrInvalidRecord, err)
	}

	reg := newRegistration(sub)
	for i, a := range sub.Attachments {
		rec := AttachmentRecord{
			Position:     i,
			OriginalName: a.OriginalName,
			ContentType:  a.ContentType,
			Size:         int64(a.Size()),
		}
		if r.blobs != nil {
			rec.ObjectKey = AttachmentKey(sub.ID, i, a.OriginalName)
			if err := r.blobs.Put(ctx, rec.ObjectKey, a.Data, a.ContentType); err != nil {
				return nil, fmt.Errorf("%w: upload attachment %d: %w", ErrUnavailable, i, err)
			}
		} else {
			rec.Data = a.Data
			if rec.Data == nil {
				rec.Data = []byte{}
			}
		}
		reg.Attachments = append(reg.Attachments, rec)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, classify("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, insertRegistration,
		sub.ID, f.OwnerName, f.ContactNo, f.Address, f.EmailAddress,
		f.TitleNumber, f.SurveyNumber, f.PropertyLocation, lot, area,
		string(f.Classification), pgtype.Date{Time: regDate, Valid: true}, f.RegistrarOffice,
		nullText(f.PreviousTitleNumber), nullText(f.Encumbrances), string(f.Status), reg.ReceivedAt,
	).Scan(&reg.ID, &reg.CreatedAt)
	if err != nil {
		return nil, classify("insert registration", err)
	}

	for _, rec := range reg.Attachments {
		_, err := tx.Exec(ctx, insertAttachment,
			reg.ID, rec.Position, rec.OriginalName, rec.ContentType, rec.Size,
			nullText(rec.ObjectKey), rec.Data,
		)
		if err != nil {
			return nil, classify(fmt.Sprintf("insert attachment %d", rec.Position), err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classify("commit registration", err)
	}
	return reg, nil
}

const registrationColumns = `
	r.id, r.submission_id, r.owner_name, r.contact_no, r.address, r.email_address,
	r.title_number, r.survey_number, r.property_location, r.lot_number::text, r.area_size::text,
	r.classification, r.registration_date, r.registrar_office,
	COALESCE(r.previous_title_number, ''), COALESCE(r.encumbrances, ''), r.status,
	r.received_at, r.created_at,
	(SELECT COUNT(*) FROM registration_attachments a WHERE a.registration_id = r.id)
`

// GetRegistration returns the registration for submissionID with its attachment metadata.
func (r *PostgresRepository) GetRegistration(ctx context.Context, submissionID string) (*Registration, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	query := `SELECT ` + registrationColumns + ` FROM registrations r WHERE r.submission_id = $1`
	reg, err := scanRegistration(r.pool.QueryRow(ctx, query, submissionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, classify("get registration", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT position, original_name, content_type, size_bytes, COALESCE(object_key, '')
		FROM registration_attachments
		WHERE registration_id = $1
		ORDER BY position
	`, reg.ID)
	if err != nil {
		return nil, classify("list attachments", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec AttachmentRecord
		if err := rows.Scan(&rec.Position, &rec.OriginalName, &rec.ContentType, &rec.Size, &rec.ObjectKey); err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		reg.Attachments = append(reg.Attachments, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list attachments", err)
	}
	return reg, nil
}

// ListRegistrations returns a page of registrations, newest first, and the total count.
func (r *PostgresRepository) ListRegistrations(ctx context.Context, limit, offset int) ([]Registration, int, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()
	offset = max(offset, 0)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM registrations`).Scan(&total); err != nil {
		return nil, 0, classify("count registrations", err)
	}

	query := `SELECT ` + registrationColumns + `
		FROM registrations r
		ORDER BY r.created_at DESC, r.id DESC
		LIMIT $1 OFFSET $2`
	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, classify("list registrations", err)
	}
	defer rows.Close()

	regs := make([]Registration, 0, limit)
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan registration: %w", err)
		}
		regs = append(regs, *reg)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, classify("list registrations", err)
	}
	return regs, total, nil
}

func scanRegistration(row pgx.Row) (*Registration, error) {
	var (
		reg                      Registration
		lot, area, class, status string
		regDate                  time.Time
	)
	err := row.Scan(
		&reg.ID, &reg.SubmissionID, &reg.OwnerName, &reg.ContactNo, &reg.Address, &reg.EmailAddress,
		&reg.TitleNumber, &reg.SurveyNumber, &reg.PropertyLocation, &lot, &area,
		&class, &regDate, &reg.RegistrarOffice,
		&reg.PreviousTitleNumber, &reg.Encumbrances, &status,
		&reg.ReceivedAt, &reg.CreatedAt, &reg.AttachmentCount,
	)
	if err != nil {
		return nil, err
	}
	reg.LotNumber = json.Number(lot)
	reg.AreaSize = json.Number(area)
	reg.Classification = landtitle.Classification(class)
	reg.Status = landtitle.Status(status)
	reg.RegistrationDate = regDate.Format(landtitle.DateLayout)
	return &reg, nil
}

func numeric(n json.Number) (pgtype.Numeric, error) {
	var v pgtype.Numeric
	if err := v.Scan(n.String()); err != nil {
		return v, err
	}
	return v, nil
}

func nullText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

// classify maps driver errors onto the package sentinels. Unique violations
// are duplicates, data and integrity errors are permanent, and everything
// else (connection loss, timeouts, server shutdown) is worth retrying.
func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return fmt.Errorf("%s: %w", op, ErrDuplicateSubmission)
		case strings.HasPrefix(pgErr.Code, "22"), strings.HasPrefix(pgErr.Code, "23"):
			return fmt.Errorf("%s: %w: %s (%s)", op, ErrInvalidRecord, pgErr.Message, pgErr.Code)
		}
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
