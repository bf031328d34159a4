package controllers

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/sergeschumacher/hermes/internal/app"
	"github.com/sergeschumacher/hermes/internal/domain"
	"github.com/sergeschumacher/hermes/internal/nzb"
)

type JobsController struct {
	App *app.Context
}

// Submit accepts a raw NZB document and queues it for download
func (ctrl *JobsController) Submit(c *echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "failed to read request body"})
	}

	name := c.QueryParam("name")
	if name == "" {
		name = "upload.nzb"
	}

	receipt, err := ctrl.App.Engine.Submit(body, name)
	if err != nil {
		if errors.Is(err, nzb.ErrMalformedDocument) {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}

	return c.JSON(http.StatusCreated, SubmitResponse{
		ID:           receipt.JobID,
		FileCount:    receipt.FileCount,
		SegmentCount: receipt.SegmentCount,
		TotalBytes:   receipt.TotalBytes,
	})
}

func (ctrl *JobsController) List(c *echo.Context) error {
	jobs := ctrl.App.Engine.List()

	resp := make([]JobResponse, 0, len(jobs))
	for _, j := range jobs {
		resp = append(resp, toJobResponse(j, ctrl.App.Engine.Snapshot(j)))
	}
	return c.JSON(http.StatusOK, resp)
}

func (ctrl *JobsController) Get(c *echo.Context) error {
	job, ok := ctrl.App.Engine.Get(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "job not found"})
	}
	return c.JSON(http.StatusOK, toJobResponse(job, ctrl.App.Engine.Snapshot(job)))
}

// Cancel stops a running job. Finished jobs cannot be cancelled.
func (ctrl *JobsController) Cancel(c *echo.Context) error {
	err := ctrl.App.Engine.Cancel(c.Param("id"))
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "job not found"})
	case errors.Is(err, domain.ErrJobFinished):
		return c.JSON(http.StatusConflict, ErrorResponse{Error: "job already finished"})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

func toJobResponse(job *domain.Job, p domain.Progress) JobResponse {
	return JobResponse{
		ID:                job.ID,
		Name:              job.Name,
		Status:            string(job.Status()),
		Error:             job.ErrorText(),
		TotalFiles:        job.Document.TotalFiles,
		TotalSegments:     job.TotalSegments,
		CompletedSegments: p.CompletedSegments,
		FailedSegments:    p.FailedSegments,
		DownloadedBytes:   p.DownloadedBytes,
		TotalBytes:        job.TotalBytes,
		Percent:           p.Percent,
		SpeedBytesPerSec:  p.SpeedBytesPerSec,
	}
}
