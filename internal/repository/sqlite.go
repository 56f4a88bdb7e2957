package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/gurigacaferi/skeneri-i-faturave-sub001/constants"
	"github.com/gurigacaferi/skeneri-i-faturave-sub001/internal/common"
	"github.com/gurigacaferi/skeneri-i-faturave-sub001/internal/entity"
)

// SQLiteJobRepository implements JobRepository using modernc.org/sqlite.
// It is the local/dev backend; semantics match the Postgres repository.
type SQLiteJobRepository struct {
	db  *sql.DB
	log *zap.Logger
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string, log *zap.Logger) (*SQLiteJobRepository, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteJobRepository{db: db, log: log}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS extract_jobs (
	id           TEXT PRIMARY KEY,
	owner_id     TEXT NOT NULL,
	source_ref   TEXT NOT NULL,
	content_type TEXT NOT NULL,
	state        TEXT NOT NULL DEFAULT 'pending',
	result       TEXT,
	error_detail TEXT,
	created_at   DATETIME NOT NULL,
	terminal_at  DATETIME
);

CREATE INDEX IF NOT EXISTS idx_extract_jobs_owner ON extract_jobs(owner_id);
CREATE INDEX IF NOT EXISTS idx_extract_jobs_state ON extract_jobs(state);
`

func (r *SQLiteJobRepository) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (r *SQLiteJobRepository) Close() error {
	return r.db.Close()
}

func (r *SQLiteJobRepository) Create(ctx context.Context, ownerID uuid.UUID, sourceRef, contentType string) (*entity.Job, error) {
	job := &entity.Job{
		ID:          uuid.New(),
		OwnerID:     ownerID,
		SourceRef:   sourceRef,
		ContentType: contentType,
		State:       constants.JobStatePending,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO extract_jobs (id, owner_id, source_ref, content_type, state, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID.String(), job.OwnerID.String(), job.SourceRef, job.ContentType, string(job.State), job.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: create job")
	}
	r.log.Info("extract_job created",
		zap.String("job_id", job.ID.String()),
		zap.String("owner_id", ownerID.String()),
	)
	return job, nil
}

func (r *SQLiteJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, owner_id, source_ref, content_type, state, result, error_detail, created_at, terminal_at
		 FROM extract_jobs WHERE id = ?`, id.String())
	job, err := scanJobSQLite(row.Scan)
	if err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, eris.Wrapf(err, "sqlite: get job %s", id)
	}
	return job, nil
}

func (r *SQLiteJobRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID, states ...constants.JobState) ([]*entity.Job, error) {
	query := `SELECT id, owner_id, source_ref, content_type, state, result, error_detail, created_at, terminal_at
		FROM extract_jobs WHERE owner_id = ?`
	args := []any{ownerID.String()}
	if len(states) > 0 {
		query += ` AND state IN (?` + repeat(",?", len(states)-1) + `)`
		for _, s := range states {
			args = append(args, string(s))
		}
	}
	query += ` ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list jobs for %s", ownerID)
	}
	defer rows.Close()

	var jobs []*entity.Job
	for rows.Next() {
		job, err := scanJobSQLite(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job row")
		}
		jobs = append(jobs, job)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs")
}

func (r *SQLiteJobRepository) Transition(ctx context.Context, id uuid.UUID, from, to constants.JobState, outcome entity.TransitionOutcome) error {
	if err := validateTransition(from, to, outcome); err != nil {
		return err
	}

	resultJSON, errorDetail, terminalAt, err := transitionColumns(to, outcome)
	if err != nil {
		return err
	}

	var resultText any
	if resultJSON != nil {
		resultText = string(resultJSON)
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE extract_jobs
		 SET state = ?, result = ?, error_detail = ?, terminal_at = ?
		 WHERE id = ? AND state = ?`,
		string(to), resultText, errorDetail, terminalAt, id.String(), string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: transition job %s", id)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if affected == 0 {
		var current string
		err := r.db.QueryRowContext(ctx, `SELECT state FROM extract_jobs WHERE id = ?`, id.String()).Scan(&current)
		if err != nil {
			if eris.Is(err, sql.ErrNoRows) {
				return common.ErrNotFound
			}
			return eris.Wrapf(err, "sqlite: inspect job %s", id)
		}
		r.log.Warn("extract_job transition rejected",
			zap.String("job_id", id.String()),
			zap.String("expected", string(from)),
			zap.String("actual", current),
		)
		return common.ErrInvalidTransition
	}

	r.log.Info("extract_job transitioned",
		zap.String("job_id", id.String()),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	return nil
}

func scanJobSQLite(scan func(dest ...any) error) (*entity.Job, error) {
	var (
		job        entity.Job
		idStr      string
		ownerStr   string
		state      string
		resultText sql.NullString
	)
	err := scan(
		&idStr, &ownerStr, &job.SourceRef, &job.ContentType,
		&state, &resultText, &job.ErrorDetail, &job.CreatedAt, &job.TerminalAt,
	)
	if err != nil {
		return nil, err
	}
	if job.ID, err = uuid.Parse(idStr); err != nil {
		return nil, eris.Wrap(err, "parse job id")
	}
	if job.OwnerID, err = uuid.Parse(ownerStr); err != nil {
		return nil, eris.Wrap(err, "parse owner id")
	}
	job.State = constants.JobState(state)
	if resultText.Valid {
		if err := json.Unmarshal([]byte(resultText.String), &job.Result); err != nil {
			return nil, eris.Wrap(err, "unmarshal result")
		}
	}
	return &job, nil
}

func repeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}
