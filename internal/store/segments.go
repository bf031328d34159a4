package store

import (
	"fmt"

	"github.com/sergeschumacher/hermes/internal/domain"
)

// SaveSegmentStatus upserts one segment row, keyed by file index + segment
// number within the job.
func (s *Store) SaveSegmentStatus(jobID string, fileIndex, number int, status domain.SegmentStatus) error {
	query := `INSERT OR REPLACE INTO segments (job_id, file_index, number, status)
	          VALUES (?, ?, ?, ?)`

	_, err := s.db.Exec(query, jobID, fileIndex, number, status)
	return err
}

// CompletedSegments returns the set of segments already marked completed for
// a job, keyed "fileIndex/number". Used to skip work when a job resumes.
func (s *Store) CompletedSegments(jobID string) (map[string]bool, error) {
	query := `SELECT file_index, number FROM segments WHERE job_id = ? AND status = ?`

	rows, err := s.db.Query(query, jobID, domain.SegmentCompleted)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch segment state: %w", err)
	}
	defer rows.Close()

	done := make(map[string]bool)
	for rows.Next() {
		var fileIndex, number int
		if err := rows.Scan(&fileIndex, &number); err != nil {
			return nil, err
		}
		done[fmt.Sprintf("%d/%d", fileIndex, number)] = true
	}

	return done, rows.Err()
}
