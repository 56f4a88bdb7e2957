package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/gurigacaferi/skeneri-i-faturave-sub001/constants"
	"github.com/gurigacaferi/skeneri-i-faturave-sub001/internal/common"
	"github.com/gurigacaferi/skeneri-i-faturave-sub001/internal/entity"
)

// PostgresJobRepository implements JobRepository on a pgx pool.
type PostgresJobRepository struct {
	pool Pool
	log  *zap.Logger
}

func NewPostgresJobRepository(pool Pool, log *zap.Logger) *PostgresJobRepository {
	return &PostgresJobRepository{pool: pool, log: log}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS extract_jobs (
	id           UUID PRIMARY KEY,
	owner_id     UUID NOT NULL,
	source_ref   TEXT NOT NULL,
	content_type TEXT NOT NULL,
	state        TEXT NOT NULL DEFAULT 'pending',
	result       JSONB,
	error_detail TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	terminal_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_extract_jobs_owner ON extract_jobs(owner_id);
CREATE INDEX IF NOT EXISTS idx_extract_jobs_state ON extract_jobs(state);
`

// Migrate creates the extract_jobs table when missing.
func (r *PostgresJobRepository) Migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (r *PostgresJobRepository) Create(ctx context.Context, ownerID uuid.UUID, sourceRef, contentType string) (*entity.Job, error) {
	job := &entity.Job{
		ID:          uuid.New(),
		OwnerID:     ownerID,
		SourceRef:   sourceRef,
		ContentType: contentType,
		State:       constants.JobStatePending,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO extract_jobs (id, owner_id, source_ref, content_type, state, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		job.ID, job.OwnerID, job.SourceRef, job.ContentType, string(job.State), job.CreatedAt,
	)
	if err != nil {
		r.log.Error("extract_job create failed", zap.String("owner_id", ownerID.String()), zap.Error(err))
		return nil, eris.Wrap(err, "postgres: create job")
	}
	r.log.Info("extract_job created",
		zap.String("job_id", job.ID.String()),
		zap.String("owner_id", ownerID.String()),
		zap.String("source_ref", sourceRef),
	)
	return job, nil
}

const jobColumns = `id, owner_id, source_ref, content_type, state, result, error_detail, created_at, terminal_at`

func (r *PostgresJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM extract_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get job %s", id)
	}
	return job, nil
}

func (r *PostgresJobRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID, states ...constants.JobState) ([]*entity.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM extract_jobs WHERE owner_id = $1`
	args := []any{ownerID}
	if len(states) > 0 {
		ss := make([]string, len(states))
		for i, s := range states {
			ss[i] = string(s)
		}
		query += ` AND state = ANY($2)`
		args = append(args, ss)
	}
	query += ` ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list jobs for %s", ownerID)
	}
	defer rows.Close()

	var jobs []*entity.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job row")
		}
		jobs = append(jobs, job)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs")
}

func (r *PostgresJobRepository) Transition(ctx context.Context, id uuid.UUID, from, to constants.JobState, outcome entity.TransitionOutcome) error {
	if err := validateTransition(from, to, outcome); err != nil {
		return err
	}

	resultJSON, errorDetail, terminalAt, err := transitionColumns(to, outcome)
	if err != nil {
		return err
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE extract_jobs
		 SET state = $1, result = $2, error_detail = $3, terminal_at = $4
		 WHERE id = $5 AND state = $6`,
		string(to), resultJSON, errorDetail, terminalAt, id, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: transition job %s", id)
	}
	if tag.RowsAffected() == 0 {
		return r.resolveMissedTransition(ctx, id, from, to)
	}

	r.log.Info("extract_job transitioned",
		zap.String("job_id", id.String()),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	return nil
}

// resolveMissedTransition distinguishes a missing row from a row whose
// current state no longer matches the expected predecessor.
func (r *PostgresJobRepository) resolveMissedTransition(ctx context.Context, id uuid.UUID, from, to constants.JobState) error {
	var current string
	err := r.pool.QueryRow(ctx, `SELECT state FROM extract_jobs WHERE id = $1`, id).Scan(&current)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return common.ErrNotFound
		}
		return eris.Wrapf(err, "postgres: inspect job %s", id)
	}
	r.log.Warn("extract_job transition rejected",
		zap.String("job_id", id.String()),
		zap.String("expected", string(from)),
		zap.String("actual", current),
		zap.String("target", string(to)),
	)
	return common.ErrInvalidTransition
}

// validateTransition rejects illegal edges and malformed outcome payloads
// before touching the database.
func validateTransition(from, to constants.JobState, outcome entity.TransitionOutcome) error {
	if !constants.CanTransition(from, to) {
		return common.ErrInvalidTransition
	}
	switch to {
	case constants.JobStateProcessed:
		if outcome.ErrorDetail != "" {
			return common.NewAppError("TRANSITION_ERROR", "error detail on a processed transition", common.ErrInvalidInput)
		}
	case constants.JobStateFailed:
		if outcome.ErrorDetail == "" {
			return common.NewAppError("TRANSITION_ERROR", "failed transition requires error detail", common.ErrInvalidInput)
		}
		if outcome.Result != nil {
			return common.NewAppError("TRANSITION_ERROR", "result on a failed transition", common.ErrInvalidInput)
		}
	default:
		if outcome.Result != nil || outcome.ErrorDetail != "" {
			return common.NewAppError("TRANSITION_ERROR", "outcome payload on a non-terminal transition", common.ErrInvalidInput)
		}
	}
	return nil
}

// transitionColumns builds the result/error/terminal_at column values for
// the target state. A processed result is always serialized, so an empty
// extraction still yields [] rather than NULL.
func transitionColumns(to constants.JobState, outcome entity.TransitionOutcome) ([]byte, *string, *time.Time, error) {
	var resultJSON []byte
	var errorDetail *string
	var terminalAt *time.Time

	if to == constants.JobStateProcessed {
		items := outcome.Result
		if items == nil {
			items = []entity.LineItem{}
		}
		b, err := json.Marshal(items)
		if err != nil {
			return nil, nil, nil, eris.Wrap(err, "marshal result")
		}
		resultJSON = b
	}
	if to == constants.JobStateFailed {
		d := outcome.ErrorDetail
		errorDetail = &d
	}
	if to.IsTerminal() {
		now := time.Now().UTC()
		terminalAt = &now
	}
	return resultJSON, errorDetail, terminalAt, nil
}

// rowScanner covers both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*entity.Job, error) {
	var (
		job        entity.Job
		state      string
		resultJSON []byte
	)
	err := row.Scan(
		&job.ID, &job.OwnerID, &job.SourceRef, &job.ContentType,
		&state, &resultJSON, &job.ErrorDetail, &job.CreatedAt, &job.TerminalAt,
	)
	if err != nil {
		return nil, err
	}
	job.State = constants.JobState(state)
	if resultJSON != nil {
		if err := json.Unmarshal(resultJSON, &job.Result); err != nil {
			return nil, eris.Wrap(err, "unmarshal result")
		}
	}
	return &job, nil
}
