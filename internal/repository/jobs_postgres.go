package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iago/analytics-audio-reports/internal/domain"
)

const uniqueViolation = "23505"

type PostgresJobsRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresJobsRepository(ctx context.Context, databaseURL string) (*PostgresJobsRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	return &PostgresJobsRepository{pool: pool}, nil
}

func (r *PostgresJobsRepository) Close() {
	r.pool.Close()
}

func (r *PostgresJobsRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PostgresJobsRepository) CreateJob(ctx context.Context, job *domain.AudioJob) error {
	request := []byte(job.Request)
	if len(request) == 0 {
		request = []byte("{}")
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO audio_jobs (
			id,
			status,
			request,
			report_text,
			script,
			upload_id,
			asset_id,
			player_url,
			error_message,
			created_at,
			updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`,
		job.ID,
		string(job.Status),
		request,
		job.ReportText,
		job.Script,
		job.UploadID,
		job.AssetID,
		job.PlayerURL,
		job.ErrorMessage,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert audio job: %w", err)
	}
	return nil
}

// UpdateJob locks the row so the transition check and the write are atomic
// across processes.
func (r *PostgresJobsRepository) UpdateJob(ctx context.Context, job *domain.AudioJob) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var (
			status    string
			updatedAt time.Time
		)
		err := tx.QueryRow(ctx, `SELECT status, updated_at FROM audio_jobs WHERE id = $1 FOR UPDATE`, job.ID).
			Scan(&status, &updatedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("lock audio job: %w", err)
		}
		if err := checkTransition(domain.JobStatus(status), job.Status); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE audio_jobs
			SET status = $2,
				report_text = $3,
				script = $4,
				upload_id = $5,
				asset_id = $6,
				player_url = $7,
				error_message = $8,
				updated_at = $9
			WHERE id = $1
		`,
			job.ID,
			string(job.Status),
			job.ReportText,
			job.Script,
			job.UploadID,
			job.AssetID,
			job.PlayerURL,
			job.ErrorMessage,
			latest(updatedAt, job.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("update audio job: %w", err)
		}
		return nil
	})
}

func (r *PostgresJobsRepository) GetJob(ctx context.Context, jobID string) (*domain.AudioJob, error) {
	var (
		job     domain.AudioJob
		status  string
		request []byte
	)

	err := r.pool.QueryRow(ctx, `
		SELECT id, status, request, report_text, script, upload_id, asset_id, player_url, error_message, created_at, updated_at
		FROM audio_jobs
		WHERE id = $1
	`, jobID).Scan(
		&job.ID,
		&status,
		&request,
		&job.ReportText,
		&job.Script,
		&job.UploadID,
		&job.AssetID,
		&job.PlayerURL,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query audio job: %w", err)
	}

	job.Status = domain.JobStatus(status)
	job.Request = request
	return &job, nil
}
