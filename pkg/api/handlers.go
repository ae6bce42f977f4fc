package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lifetrace-ai/lifetrace/pkg/mentalstate"
	"github.com/lifetrace-ai/lifetrace/pkg/models"
	"github.com/lifetrace-ai/lifetrace/pkg/services"
)

// EventsAPI is the event service surface the handlers use. Satisfied by
// services.EventService.
type EventsAPI interface {
	AnalyzeIncremental(ctx context.Context, username, transcript string) (*services.AnalyzeResult, error)
	GetEvents(ctx context.Context, username string, at time.Time) (*services.EventsView, error)
	EventsByDate(ctx context.Context, username, date, tz string) (*services.EventsView, error)
}

// TranscriptionsAPI is satisfied by services.TranscriptionService.
type TranscriptionsAPI interface {
	List(ctx context.Context, username string, q services.TranscriptionQuery) (*services.TranscriptionPage, error)
}

// InsightsAPI is satisfied by services.InsightsService.
type InsightsAPI interface {
	MentalState(ctx context.Context, username, date, tz string) (*mentalstate.Snapshot, error)
}

// BatchesAPI is satisfied by services.BatchService.
type BatchesAPI interface {
	Retry(ctx context.Context, id string) (*models.Batch, error)
}

// ReflectionsAPI is satisfied by services.ReflectionService.
type ReflectionsAPI interface {
	GetByDate(ctx context.Context, username, date string) (*models.DailyReflection, error)
}

type analyzeIncrementalRequest struct {
	TimeStamp     string `json:"time_stamp"`
	NewTranscript string `json:"new_transcript"`
}

// handleAnalyzeIncremental runs the event fold immediately for one pushed
// transcript payload.
func (s *Server) handleAnalyzeIncremental(c *gin.Context) {
	var req analyzeIncrementalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.svc.Events.AnalyzeIncremental(c.Request.Context(), callerUsername(c), req.NewTranscript)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type getEventsRequest struct {
	TimeStamp string `json:"time_stamp"`
}

// handleGetEvents returns the caller's events for the day of time_stamp.
func (s *Server) handleGetEvents(c *gin.Context) {
	var req getEventsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	at := time.Now()
	if req.TimeStamp != "" {
		parsed, err := parseTimestamp(req.TimeStamp)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unparseable time_stamp"})
			return
		}
		at = parsed
	}

	view, err := s.svc.Events.GetEvents(c.Request.Context(), callerUsername(c), at)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleEventsByDate(c *gin.Context) {
	view, err := s.svc.Events.EventsByDate(c.Request.Context(), callerUsername(c),
		c.Query("date"), c.Query("timezone"))
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleMentalState(c *gin.Context) {
	snap, err := s.svc.Insights.MentalState(c.Request.Context(), callerUsername(c),
		c.Query("date"), c.Query("timezone"))
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleListTranscriptions(c *gin.Context) {
	q := services.TranscriptionQuery{
		Page:      queryInt(c, "page"),
		PageSize:  queryInt(c, "page_size"),
		StartDate: c.Query("start_date"),
		EndDate:   c.Query("end_date"),
	}

	page, err := s.svc.Transcriptions.List(c.Request.Context(), callerUsername(c), q)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) handleGetReflection(c *gin.Context) {
	ref, err := s.svc.Reflections.GetByDate(c.Request.Context(), callerUsername(c), c.Query("date"))
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, ref)
}

func (s *Server) handleRetryBatch(c *gin.Context) {
	batch, err := s.svc.Batches.Retry(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"batch_id": batch.ID, "status": batch.Status})
}

// parseTimestamp accepts the timestamp shapes device clients send: RFC3339,
// a space-separated variant, or Unix seconds.
func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, strconv.ErrSyntax
}

func queryInt(c *gin.Context, name string) int {
	n, _ := strconv.Atoi(c.Query(name))
	return n
}
