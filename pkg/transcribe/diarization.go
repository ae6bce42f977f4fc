package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Turn is one diarization turn: who spoke over which span of the batch
// audio. Speaker carries the vendor's raw label.
type Turn struct {
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// DiarizationClient drives the submit-then-poll job API of the diarization
// vendor.
type DiarizationClient struct {
	apiKey        string
	baseURL       string
	httpClient    *http.Client
	pollInterval  time.Duration
	pollCap       time.Duration
}

// NewDiarizationClient builds a client. submitTimeout bounds the job
// submission; polling is bounded separately by pollCap.
func NewDiarizationClient(baseURL, apiKey string, submitTimeout, pollInterval, pollCap time.Duration) *DiarizationClient {
	return &DiarizationClient{
		apiKey:       apiKey,
		baseURL:      baseURL,
		httpClient:   &http.Client{Timeout: submitTimeout},
		pollInterval: pollInterval,
		pollCap:      pollCap,
	}
}

// Diarize submits the audio at a signed URL and polls until the job settles.
// A diarization failure is returned as an error; the caller decides whether
// to fall back to single-speaker output.
func (c *DiarizationClient) Diarize(ctx context.Context, audioURL string) ([]Turn, error) {
	jobID, err := c.submit(ctx, audioURL)
	if err != nil {
		return nil, err
	}
	return c.poll(ctx, jobID)
}

func (c *DiarizationClient) submit(ctx context.Context, audioURL string) (string, error) {
	body, err := json.Marshal(map[string]string{"url": audioURL, "model": "precision-1"})
	if err != nil {
		return "", fmt.Errorf("diarization: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/diarize", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("diarization: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("diarization: submit failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("diarization: read submit response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("diarization: submit status %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	var out struct {
		JobID string `json:"jobId"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("diarization: decode submit response: %w", err)
	}
	if out.JobID == "" {
		return "", fmt.Errorf("diarization: submit returned no job id")
	}
	return out.JobID, nil
}

func (c *DiarizationClient) poll(ctx context.Context, jobID string) ([]Turn, error) {
	deadline := time.Now().Add(c.pollCap)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		turns, done, err := c.checkJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if done {
			return turns, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("diarization: job %s did not settle within %s", jobID, c.pollCap)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *DiarizationClient) checkJob(ctx context.Context, jobID string) ([]Turn, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/jobs/"+jobID, nil)
	if err != nil {
		return nil, false, fmt.Errorf("diarization: build poll request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("diarization: poll failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("diarization: read poll response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("diarization: poll status %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	// Some vendor versions return the finished turn list with no envelope.
	var bare []Turn
	if err := json.Unmarshal(raw, &bare); err == nil {
		return bare, true, nil
	}

	var out struct {
		Status string `json:"status"`
		Output struct {
			Diarization []Turn `json:"diarization"`
			Segments    []Turn `json:"segments"`
			Timeline    []Turn `json:"timeline"`
		} `json:"output"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false, fmt.Errorf("diarization: decode poll response: %w", err)
	}

	switch out.Status {
	case "succeeded":
		return firstTurns(out.Output.Diarization, out.Output.Segments, out.Output.Timeline), true, nil
	case "failed", "canceled":
		return nil, false, fmt.Errorf("diarization: job %s ended with status %s", jobID, out.Status)
	default:
		return nil, false, nil
	}
}

func firstTurns(lists ...[]Turn) []Turn {
	for _, l := range lists {
		if len(l) > 0 {
			return l
		}
	}
	return nil
}
