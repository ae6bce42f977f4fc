package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const defaultDeepgramBaseURL = "https://api.deepgram.com/v1"

// Word is one recognized word with its timing inside the batch audio.
type Word struct {
	Word           string  `json:"word"`
	PunctuatedWord string  `json:"punctuated_word"`
	Start          float64 `json:"start"`
	End            float64 `json:"end"`
	Confidence     float64 `json:"confidence"`
}

// Transcription is the recognizer's output for one batch.
type Transcription struct {
	Transcript string
	Confidence float64
	Language   string
	Words      []Word

	// Vendor analysis payloads, kept verbatim for storage.
	Sentiments  json.RawMessage
	Topics      json.RawMessage
	Intents     json.RawMessage
	RawResponse json.RawMessage
}

// DeepgramClient is a thin client for the prerecorded-audio endpoint.
type DeepgramClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewDeepgramClient builds a client. timeout bounds the whole recognition
// call, which for long batches can run minutes.
func NewDeepgramClient(apiKey string, timeout time.Duration) *DeepgramClient {
	return &DeepgramClient{
		apiKey:     apiKey,
		baseURL:    defaultDeepgramBaseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// TranscribeURL recognizes audio the vendor fetches from a signed URL.
func (c *DeepgramClient) TranscribeURL(ctx context.Context, audioURL string) (*Transcription, error) {
	// The language is pinned; auto-detection has regressed whole batches
	// into the wrong language on noisy audio.
	params := url.Values{
		"model":      {"nova-3"},
		"language":   {"en"},
		"diarize":    {"false"},
		"words":      {"true"},
		"punctuate":  {"true"},
		"utterances": {"true"},
		"paragraphs": {"true"},
		"sentiment":  {"true"},
		"topics":     {"true"},
		"intents":    {"true"},
	}
	endpoint := c.baseURL + "/listen?" + params.Encode()

	body, err := json.Marshal(map[string]string{"url": audioURL})
	if err != nil {
		return nil, fmt.Errorf("deepgram: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("deepgram: build request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("deepgram: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("deepgram: status %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	var decoded deepgramResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("deepgram: decode response: %w", err)
	}
	if len(decoded.Results.Channels) == 0 || len(decoded.Results.Channels[0].Alternatives) == 0 {
		return nil, fmt.Errorf("deepgram: response has no alternatives")
	}

	channel := decoded.Results.Channels[0]
	alt := channel.Alternatives[0]
	lang := channel.DetectedLanguage
	if lang == "" {
		lang = decoded.Metadata.Language
	}
	if lang == "" {
		lang = "en"
	}
	return &Transcription{
		Transcript:  alt.Transcript,
		Confidence:  alt.Confidence,
		Language:    lang,
		Words:       alt.Words,
		Sentiments:  decoded.Results.Sentiments,
		Topics:      decoded.Results.Topics,
		Intents:     decoded.Results.Intents,
		RawResponse: raw,
	}, nil
}

type deepgramResponse struct {
	Metadata struct {
		Language string `json:"language"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			DetectedLanguage string `json:"detected_language"`
			Alternatives     []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
				Words      []Word  `json:"words"`
			} `json:"alternatives"`
		} `json:"channels"`
		Sentiments json.RawMessage `json:"sentiments"`
		Topics     json.RawMessage `json:"topics"`
		Intents    json.RawMessage `json:"intents"`
	} `json:"results"`
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
