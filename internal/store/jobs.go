package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sergeschumacher/hermes/internal/domain"
)

// JobRow is the persisted shape of a job. Counters are frozen values, not
// the live atomics; the engine is the source of truth while a job runs.
type JobRow struct {
	ID                string
	Name              string
	Status            domain.JobStatus
	TotalSegments     int64
	CompletedSegments int64
	FailedSegments    int64
	TotalBytes        int64
	DownloadedBytes   int64
	Error             string
	StartedAt         time.Time
}

func (s *Store) SaveJob(job *domain.Job) error {
	query := `INSERT OR REPLACE INTO jobs
	          (id, name, status, total_segments, completed_segments, failed_segments,
	           total_bytes, downloaded_bytes, error, started_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.Exec(query,
		job.ID,
		job.Name,
		job.Status(),
		job.TotalSegments,
		job.CompletedSegments.Load(),
		job.FailedSegments.Load(),
		job.TotalBytes,
		job.DownloadedBytes.Load(),
		job.ErrorText(),
		job.StartedAt,
	)
	return err
}

func (s *Store) GetJob(id string) (*JobRow, error) {
	query := `SELECT id, name, status, total_segments, completed_segments, failed_segments,
	                 total_bytes, downloaded_bytes, error, started_at
	          FROM jobs WHERE id = ? LIMIT 1`

	row := s.db.QueryRow(query, id)

	var j JobRow
	err := row.Scan(&j.ID, &j.Name, &j.Status, &j.TotalSegments, &j.CompletedSegments,
		&j.FailedSegments, &j.TotalBytes, &j.DownloadedBytes, &j.Error, &j.StartedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch job: %w", err)
	}

	return &j, nil
}

// ActiveJobs returns lightweight refs for every unfinished job, for the
// engine's restart resume.
func (s *Store) ActiveJobs() ([]domain.JobRef, error) {
	rows, err := s.GetActiveJobs()
	if err != nil {
		return nil, err
	}

	refs := make([]domain.JobRef, 0, len(rows))
	for _, r := range rows {
		refs = append(refs, domain.JobRef{ID: r.ID, Name: r.Name})
	}
	return refs, nil
}

// GetActiveJobs returns jobs that have not reached a terminal state, sorted
// chronologically (KSUIDs sort by creation time).
func (s *Store) GetActiveJobs() ([]*JobRow, error) {
	query := `SELECT id, name, status, total_segments, completed_segments, failed_segments,
	                 total_bytes, downloaded_bytes, error, started_at
	          FROM jobs
	          WHERE status NOT IN ('completed', 'failed', 'cancelled')
	          ORDER BY id ASC`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch active jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*JobRow
	for rows.Next() {
		var j JobRow
		err := rows.Scan(&j.ID, &j.Name, &j.Status, &j.TotalSegments, &j.CompletedSegments,
			&j.FailedSegments, &j.TotalBytes, &j.DownloadedBytes, &j.Error, &j.StartedAt)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, &j)
	}

	return jobs, rows.Err()
}
