package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrRecordExists   = errors.New("record already exists")
	ErrRecordNotFound = errors.New("record not found")
)

// Patient is the metadata captured with each recording.
type Patient struct {
	Name           string `json:"patient_name"`
	Age            int    `json:"age"`
	ContactDetails string `json:"contact_details"`
	Address        string `json:"address"`
	Citizenship    string `json:"citizenship"`
	CivilStatus    string `json:"civil_status"`
}

// Record is one row of timestamp_results. Results holds the raw segment
// array exactly as the inference API returned it.
type Record struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Patient   Patient         `json:"patient"`
	AudioName string          `json:"audio_name,omitempty"`
	Results   json.RawMessage `json:"results"`
	Diagnosis json.RawMessage `json:"diagnosis,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type row interface {
	Scan(dest ...any) error
}

type rows interface {
	Close()
	Err() error
	Next() bool
	Scan(dest ...any) error
}

type executor interface {
	Exec(ctx context.Context, query string, args ...any) error
	QueryRow(ctx context.Context, query string, args ...any) row
	Query(ctx context.Context, query string, args ...any) (rows, error)
}

const (
	recordColumns = `id, user_id, patient_name, age, contact_details, address, citizenship, civil_status, audio_name, results, diagnosis, created_at`

	insertRecordSQL = `INSERT INTO timestamp_results (
        id,
        user_id,
        patient_name,
        age,
        contact_details,
        address,
        citizenship,
        civil_status,
        audio_name,
        results,
        diagnosis,
        created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	getRecordSQL    = `SELECT ` + recordColumns + ` FROM timestamp_results WHERE id = $1`
	deleteRecordSQL = `DELETE FROM timestamp_results WHERE id = $1`
	listByUserSQL   = `SELECT ` + recordColumns + ` FROM timestamp_results WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`

	uniqueViolation = "23505"
)

func NewRecordStore(client executor) *RecordStore {
	return &RecordStore{client: client}
}

type RecordStore struct {
	client executor
}

func (s *RecordStore) Create(ctx context.Context, r Record) error {
	diagnosis := r.Diagnosis
	if len(diagnosis) == 0 {
		diagnosis = json.RawMessage("null")
	}
	err := s.client.Exec(ctx, insertRecordSQL,
		r.ID,
		r.UserID,
		r.Patient.Name,
		int32(r.Patient.Age),
		r.Patient.ContactDetails,
		r.Patient.Address,
		r.Patient.Citizenship,
		r.Patient.CivilStatus,
		r.AudioName,
		[]byte(r.Results),
		[]byte(diagnosis),
		r.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrRecordExists
		}
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func (s *RecordStore) Get(ctx context.Context, id string) (Record, error) {
	rec, err := scanRecord(s.client.QueryRow(ctx, getRecordSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrRecordNotFound
		}
		return Record{}, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

func (s *RecordStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Exec(ctx, deleteRecordSQL, id); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

// ListByUser returns the newest records first.
func (s *RecordStore) ListByUser(ctx context.Context, userID string, limit int) ([]Record, error) {
	rs, err := s.client.Query(ctx, listByUserSQL, userID, int32(limit))
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rs.Close()

	var out []Record
	for rs.Next() {
		rec, err := scanRecord(rs)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

func scanRecord(r row) (Record, error) {
	var (
		rec       Record
		age       int32
		results   []byte
		diagnosis []byte
	)
	err := r.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.Patient.Name,
		&age,
		&rec.Patient.ContactDetails,
		&rec.Patient.Address,
		&rec.Patient.Citizenship,
		&rec.Patient.CivilStatus,
		&rec.AudioName,
		&results,
		&diagnosis,
		&rec.CreatedAt,
	)
	if err != nil {
		return Record{}, err
	}
	rec.Patient.Age = int(age)
	rec.Results = json.RawMessage(results)
	if len(diagnosis) > 0 && string(diagnosis) != "null" {
		rec.Diagnosis = json.RawMessage(diagnosis)
	}
	return rec, nil
}

// EnsureSchema creates the results table if it does not already exist.
func EnsureSchema(ctx context.Context, client executor) error {
	const ddl = `CREATE TABLE IF NOT EXISTS timestamp_results (
        id TEXT PRIMARY KEY,
        user_id TEXT NOT NULL,
        patient_name TEXT NOT NULL DEFAULT '',
        age INTEGER NOT NULL DEFAULT 0,
        contact_details TEXT NOT NULL DEFAULT '',
        address TEXT NOT NULL DEFAULT '',
        citizenship TEXT NOT NULL DEFAULT '',
        civil_status TEXT NOT NULL DEFAULT '',
        audio_name TEXT NOT NULL DEFAULT '',
        results JSONB NOT NULL,
        diagnosis JSONB,
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
ALTER TABLE timestamp_results ADD COLUMN IF NOT EXISTS audio_name TEXT NOT NULL DEFAULT '';
CREATE INDEX IF NOT EXISTS timestamp_results_user_created_idx ON timestamp_results (user_id, created_at DESC)`
	if err := client.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
