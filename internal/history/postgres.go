package history

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"jobsync/internal/domain"
)

// PostgresStore implements run history on PostgreSQL. Unlike FileStore it
// records runs at start, which makes crashed runs visible as stale
// non-terminal rows for the reconciler to finalize.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the runs table and index if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, querySchema)
	return err
}

// Begin inserts the freshly started run in its non-terminal status.
func (s *PostgresStore) Begin(ctx context.Context, run domain.Run) error {
	_, err := s.db.ExecContext(ctx, queryInsertRun,
		run.ID,
		string(run.Trigger),
		run.StartedAt,
		string(run.Status),
	)
	return err
}

// Append records the terminal outcome for a run. If Begin never ran (file
// store fallback was active, or the insert failed) the row is created.
// Returns ErrRunAlreadyTerminal if the run already holds a terminal status.
func (s *PostgresStore) Append(ctx context.Context, run domain.Run) error {
	// Atomic update with the terminal guard in the WHERE clause.
	// PostgreSQL takes the row lock before evaluating WHERE, so concurrent
	// finalizers serialize here.
	result, err := s.db.ExecContext(ctx, queryFinalizeRun,
		string(run.Status),
		string(run.Phase),
		run.FinishedAt,
		run.ProducerExitCode,
		run.ProducerOutput,
		run.ArtifactJobs,
		run.ArtifactDigest,
		run.CommitSHA,
		run.CommitMessage,
		run.Error,
		run.ID,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	// Either the row is missing or it is already terminal.
	var current string
	err = s.db.QueryRowContext(ctx, queryGetRunStatus, run.ID).Scan(&current)
	if err == sql.ErrNoRows {
		return s.insertTerminal(ctx, run)
	}
	if err != nil {
		return err
	}
	return ErrRunAlreadyTerminal
}

func (s *PostgresStore) insertTerminal(ctx context.Context, run domain.Run) error {
	_, err := s.db.ExecContext(ctx, queryInsertTerminalRun,
		run.ID,
		string(run.Trigger),
		run.StartedAt,
		run.FinishedAt,
		string(run.Status),
		string(run.Phase),
		run.ProducerExitCode,
		run.ProducerOutput,
		run.ArtifactJobs,
		run.ArtifactDigest,
		run.CommitSHA,
		run.CommitMessage,
		run.Error,
	)
	return err
}

// Latest returns the most recently started run that reached a terminal
// status. The second return is false when no such run exists.
func (s *PostgresStore) Latest(ctx context.Context) (domain.Run, bool, error) {
	row := s.db.QueryRowContext(ctx, queryLatestRun)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return domain.Run{}, false, nil
	}
	if err != nil {
		return domain.Run{}, false, err
	}
	return run, true, nil
}

// List returns run records newest first, paginated by limit and offset.
func (s *PostgresStore) List(ctx context.Context, limit, offset int) ([]domain.Run, error) {
	rows, err := s.db.QueryContext(ctx, queryListRuns, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, run)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Get returns a single run record by ID.
func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (domain.Run, error) {
	row := s.db.QueryRowContext(ctx, queryGetRun, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return domain.Run{}, ErrRunNotFound
	}
	if err != nil {
		return domain.Run{}, err
	}
	return run, nil
}

// Orphans returns non-terminal runs started before olderThan, oldest first.
// These are runs whose process died before finalizing the record.
func (s *PostgresStore) Orphans(ctx context.Context, olderThan time.Time, maxResults int) ([]domain.Run, error) {
	rows, err := s.db.QueryContext(ctx, queryOrphanRuns, olderThan, maxResults)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, run)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Ping verifies database connectivity for the health endpoint.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (domain.Run, error) {
	var run domain.Run
	var trigger, status, phase string
	var finishedAt sql.NullTime

	err := row.Scan(
		&run.ID,
		&trigger,
		&run.StartedAt,
		&finishedAt,
		&status,
		&phase,
		&run.ProducerExitCode,
		&run.ProducerOutput,
		&run.ArtifactJobs,
		&run.ArtifactDigest,
		&run.CommitSHA,
		&run.CommitMessage,
		&run.Error,
	)
	if err != nil {
		return domain.Run{}, err
	}

	run.Trigger = domain.TriggerSource(trigger)
	run.Status = domain.RunStatus(status)
	run.Phase = domain.Phase(phase)
	if finishedAt.Valid {
		run.FinishedAt = finishedAt.Time
	}
	return run, nil
}
