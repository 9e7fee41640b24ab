// Package queue is a durable job queue on the shared SQLite database, with
// Laravel-style failed_jobs bookkeeping for jobs that run out of attempts.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"autopilot/internal/adapter/store"
	"autopilot/internal/domain"
)

// Queue names used by the core.
const (
	QueueDefault     = domain.QueueDefault
	QueueAgents      = domain.QueueAgents
	QueueTools       = domain.QueueTools
	QueueMaintenance = domain.QueueMaintenance
)

// Defaults apply to jobs enqueued without explicit limits.
type Defaults struct {
	MaxTries int
	Timeout  time.Duration
	Backoff  time.Duration
}

// Queue implements domain.JobQueue and domain.FailedJobStore.
type Queue struct {
	db       *store.DB
	defaults Defaults
	logger   *slog.Logger
}

var (
	_ domain.JobQueue       = (*Queue)(nil)
	_ domain.FailedJobStore = (*Queue)(nil)
)

// New creates a queue over db.
func New(db *store.DB, d Defaults, logger *slog.Logger) *Queue {
	if d.MaxTries <= 0 {
		d.MaxTries = 3
	}
	if d.Timeout <= 0 {
		d.Timeout = 600 * time.Second
	}
	if d.Backoff <= 0 {
		d.Backoff = 5 * time.Second
	}
	return &Queue{db: db, defaults: d, logger: logger}
}

// Enqueue stores the job and returns its UUID.
func (q *Queue) Enqueue(ctx context.Context, spec domain.JobSpec) (string, error) {
	if spec.Kind == "" {
		return "", domain.NewDomainError("Queue.Enqueue", domain.ErrInvalidInput, "job kind is required")
	}
	if spec.Queue == "" {
		spec.Queue = QueueDefault
	}
	if spec.MaxTries <= 0 {
		spec.MaxTries = q.defaults.MaxTries
	}
	if spec.Timeout <= 0 {
		spec.Timeout = q.defaults.Timeout
	}
	payload := string(spec.Payload)
	if payload == "" {
		payload = "{}"
	}

	id := uuid.NewString()
	now := q.db.Now()
	err := q.db.WithRetry(ctx, "Queue.Enqueue", func() error {
		_, err := q.db.SQL().ExecContext(ctx,
			`INSERT INTO jobs (uuid, queue, kind, payload, attempts, max_tries, timeout_ms, available_at, created_at)
			VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?)`,
			id, spec.Queue, spec.Kind, payload, spec.MaxTries, spec.Timeout.Milliseconds(),
			store.FormatTime(now.Add(spec.Delay)), store.FormatTime(now),
		)
		return err
	})
	if err != nil {
		return "", err
	}
	q.logger.Debug("job enqueued", "uuid", id, "queue", spec.Queue, "kind", spec.Kind)
	return id, nil
}

// reclaimGrace is how long past its own timeout a reservation is left alone
// before it is treated as abandoned by a crashed worker.
const reclaimGrace = time.Minute

// Reserve claims the next available job on queueName and counts the attempt.
// A reservation older than the job's timeout plus reclaimGrace can be
// claimed again. It returns nil when the queue is empty.
func (q *Queue) Reserve(ctx context.Context, queueName string) (*domain.Job, error) {
	now := q.db.Now()
	var job *domain.Job
	err := q.db.WithRetry(ctx, "Queue.Reserve", func() error {
		row := q.db.SQL().QueryRowContext(ctx,
			`UPDATE jobs SET reserved_at = ?, attempts = attempts + 1
			WHERE id = (
				SELECT id FROM jobs
				WHERE queue = ? AND available_at <= ? AND (
					reserved_at IS NULL
					OR julianday(reserved_at)
						+ ((CASE WHEN timeout_ms > 0 THEN timeout_ms ELSE ? END) + ?) / 86400000.0
						< julianday(?)
				)
				ORDER BY available_at, id LIMIT 1
			)
			RETURNING id, uuid, queue, kind, payload, attempts, max_tries, timeout_ms, available_at, created_at`,
			store.FormatTime(now), queueName, store.FormatTime(now),
			q.defaults.Timeout.Milliseconds(), reclaimGrace.Milliseconds(), store.FormatTime(now),
		)
		j, err := scanJob(row)
		if err != nil {
			return err
		}
		job = j
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return job, err
}

// Delete removes a finished job.
func (q *Queue) Delete(ctx context.Context, job *domain.Job) error {
	return q.db.WithRetry(ctx, "Queue.Delete", func() error {
		_, err := q.db.SQL().ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, job.ID)
		return err
	})
}

// Release puts a job back on its queue after delay.
func (q *Queue) Release(ctx context.Context, job *domain.Job, delay time.Duration) error {
	return q.db.WithRetry(ctx, "Queue.Release", func() error {
		_, err := q.db.SQL().ExecContext(ctx,
			`UPDATE jobs SET reserved_at = NULL, available_at = ? WHERE id = ?`,
			store.FormatTime(q.db.Now().Add(delay)), job.ID,
		)
		return err
	})
}

// Bury moves a job to failed_jobs with the exception text.
func (q *Queue) Bury(ctx context.Context, job *domain.Job, exception string) error {
	return q.db.Tx(ctx, "Queue.Bury", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO failed_jobs (uuid, queue, kind, payload, exception, failed_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(uuid) DO UPDATE SET exception = excluded.exception, failed_at = excluded.failed_at`,
			job.UUID, job.Queue, job.Kind, string(job.Payload), exception, store.FormatTime(q.db.Now()),
		); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, job.ID)
		return err
	})
}

// Size returns the number of jobs waiting or running on queueName.
func (q *Queue) Size(ctx context.Context, queueName string) (int, error) {
	var n int
	err := q.db.SQL().QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE queue = ?`, queueName).Scan(&n)
	return n, err
}

// ListFailed returns failed jobs, oldest first.
func (q *Queue) ListFailed(ctx context.Context, limit int) ([]domain.FailedJob, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.db.SQL().QueryContext(ctx,
		`SELECT id, uuid, queue, kind, payload, exception, failed_at FROM failed_jobs ORDER BY id LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.FailedJob
	for rows.Next() {
		var (
			f        domain.FailedJob
			payload  string
			failedAt string
		)
		if err := rows.Scan(&f.ID, &f.UUID, &f.Queue, &f.Kind, &payload, &f.Exception, &failedAt); err != nil {
			return nil, err
		}
		f.Payload = []byte(payload)
		f.FailedAt = store.ParseTime(failedAt)
		out = append(out, f)
	}
	return out, rows.Err()
}

// Retry pushes a failed job back onto its queue with a fresh attempt count.
// The job keeps its UUID.
func (q *Queue) Retry(ctx context.Context, id string) error {
	return q.db.Tx(ctx, "Queue.Retry", func(tx *sql.Tx) error {
		var queueName, kind, payload string
		err := tx.QueryRowContext(ctx,
			`SELECT queue, kind, payload FROM failed_jobs WHERE uuid = ?`, id,
		).Scan(&queueName, &kind, &payload)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NewDomainError("Queue.Retry", domain.ErrJobNotFound, id)
		}
		if err != nil {
			return err
		}
		now := q.db.Now()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO jobs (uuid, queue, kind, payload, attempts, max_tries, timeout_ms, available_at, created_at)
			VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?)`,
			id, queueName, kind, payload, q.defaults.MaxTries, q.defaults.Timeout.Milliseconds(),
			store.FormatTime(now), store.FormatTime(now),
		); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM failed_jobs WHERE uuid = ?`, id)
		return err
	})
}

// Forget deletes a failed job.
func (q *Queue) Forget(ctx context.Context, id string) error {
	var n int64
	err := q.db.WithRetry(ctx, "Queue.Forget", func() error {
		res, err := q.db.SQL().ExecContext(ctx, `DELETE FROM failed_jobs WHERE uuid = ?`, id)
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.NewDomainError("Queue.Forget", domain.ErrJobNotFound, id)
	}
	return nil
}

func scanJob(row *sql.Row) (*domain.Job, error) {
	var (
		j                    domain.Job
		payload              string
		timeoutMS            int64
		availableAt, created string
	)
	if err := row.Scan(&j.ID, &j.UUID, &j.Queue, &j.Kind, &payload, &j.Attempts, &j.MaxTries,
		&timeoutMS, &availableAt, &created); err != nil {
		return nil, err
	}
	j.Payload = []byte(payload)
	j.Timeout = time.Duration(timeoutMS) * time.Millisecond
	j.AvailableAt = store.ParseTime(availableAt)
	j.CreatedAt = store.ParseTime(created)
	return &j, nil
}
