package services

import (
	"context"
	"fmt"
	"time"

	"github.com/lifetrace-ai/lifetrace/pkg/models"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// TranscriptionReader pages through stored transcripts. Satisfied by
// storage.TranscriptionRepo.
type TranscriptionReader interface {
	ListPage(ctx context.Context, username string, from, to *time.Time, page, pageSize int) ([]*models.TranscriptionResult, int, error)
}

// TranscriptionQuery carries the paging and date-range filters.
type TranscriptionQuery struct {
	Page      int
	PageSize  int
	StartDate string
	EndDate   string
}

// TranscriptionPage is the paginated response envelope.
type TranscriptionPage struct {
	Items      []*models.TranscriptionResult `json:"transcriptions"`
	Page       int                           `json:"page"`
	PageSize   int                           `json:"page_size"`
	TotalCount int                           `json:"total_count"`
	TotalPages int                           `json:"total_pages"`
}

// TranscriptionService serves the transcript read path.
type TranscriptionService struct {
	transcripts TranscriptionReader
}

// NewTranscriptionService creates the service.
func NewTranscriptionService(transcripts TranscriptionReader) *TranscriptionService {
	if transcripts == nil {
		panic("services.NewTranscriptionService: transcripts must not be nil")
	}
	return &TranscriptionService{transcripts: transcripts}
}

// List returns one page of the user's transcripts, newest first. Date bounds
// are UTC calendar dates; end_date is inclusive.
func (s *TranscriptionService) List(ctx context.Context, username string, q TranscriptionQuery) (*TranscriptionPage, error) {
	if q.Page <= 0 {
		q.Page = 1
	}
	switch {
	case q.PageSize <= 0:
		q.PageSize = defaultPageSize
	case q.PageSize > maxPageSize:
		return nil, validationf("page_size must be at most %d", maxPageSize)
	}

	var from, to *time.Time
	if q.StartDate != "" {
		day, err := parseDate(q.StartDate, time.UTC)
		if err != nil {
			return nil, err
		}
		from = &day
	}
	if q.EndDate != "" {
		day, err := parseDate(q.EndDate, time.UTC)
		if err != nil {
			return nil, err
		}
		end := day.Add(24 * time.Hour)
		to = &end
	}
	if from != nil && to != nil && !from.Before(*to) {
		return nil, validationf("start_date is after end_date")
	}

	items, total, err := s.transcripts.ListPage(ctx, username, from, to, q.Page, q.PageSize)
	if err != nil {
		return nil, fmt.Errorf("list transcriptions: %w", err)
	}
	if items == nil {
		items = []*models.TranscriptionResult{}
	}
	return &TranscriptionPage{
		Items:      items,
		Page:       q.Page,
		PageSize:   q.PageSize,
		TotalCount: total,
		TotalPages: (total + q.PageSize - 1) / q.PageSize,
	}, nil
}
