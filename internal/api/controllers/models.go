package controllers

type ErrorResponse struct {
	Error string `json:"error"`
}

type SubmitResponse struct {
	ID           string `json:"id"`
	FileCount    int    `json:"file_count"`
	SegmentCount int    `json:"segment_count"`
	TotalBytes   int64  `json:"total_bytes"`
}

type JobResponse struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	Status            string  `json:"status"`
	Error             string  `json:"error,omitempty"`
	TotalFiles        int     `json:"total_files"`
	TotalSegments     int64   `json:"total_segments"`
	CompletedSegments int64   `json:"completed_segments"`
	FailedSegments    int64   `json:"failed_segments"`
	DownloadedBytes   int64   `json:"downloaded_bytes"`
	TotalBytes        int64   `json:"total_bytes"`
	Percent           float64 `json:"percent"`
	SpeedBytesPerSec  float64 `json:"speed_bytes_per_sec"`
}
