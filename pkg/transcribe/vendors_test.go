package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeepgramTranscribeURL(t *testing.T) {
	var gotAuth string
	var gotQuery url.Values
	var gotBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.Query()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{
			"results": {
				"channels": [{
					"detected_language": "en",
					"alternatives": [{
						"transcript": "hello there",
						"confidence": 0.97,
						"words": [
							{"word":"hello","punctuated_word":"Hello","start":0.1,"end":0.4,"confidence":0.98},
							{"word":"there","punctuated_word":"there.","start":0.5,"end":0.8,"confidence":0.96}
						]
					}]
				}],
				"sentiments": {"average":{"sentiment":"neutral"}},
				"topics": {"segments":[]}
			}
		}`))
	}))
	defer server.Close()

	client := NewDeepgramClient("dg-key", 10*time.Second)
	client.baseURL = server.URL

	tr, err := client.TranscribeURL(context.Background(), "https://objects.invalid/batch.wav?signed=1")
	require.NoError(t, err)

	assert.Equal(t, "Token dg-key", gotAuth)
	assert.Equal(t, "nova-3", gotQuery.Get("model"))
	assert.Equal(t, "en", gotQuery.Get("language"))
	assert.Equal(t, "false", gotQuery.Get("diarize"))
	assert.Equal(t, "true", gotQuery.Get("words"))
	assert.Equal(t, "true", gotQuery.Get("punctuate"))
	assert.Empty(t, gotQuery.Get("detect_language"))
	assert.Equal(t, "https://objects.invalid/batch.wav?signed=1", gotBody["url"])

	assert.Equal(t, "hello there", tr.Transcript)
	assert.InDelta(t, 0.97, tr.Confidence, 1e-9)
	assert.Equal(t, "en", tr.Language)
	require.Len(t, tr.Words, 2)
	assert.Equal(t, "Hello", tr.Words[0].PunctuatedWord)
	assert.JSONEq(t, `{"average":{"sentiment":"neutral"}}`, string(tr.Sentiments))
	assert.NotEmpty(t, tr.RawResponse)
}

func TestDeepgramErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"err_msg":"bad key"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewDeepgramClient("bad", 10*time.Second)
	client.baseURL = server.URL

	_, err := client.TranscribeURL(context.Background(), "https://objects.invalid/a.wav")
	assert.ErrorContains(t, err, "status 401")
}

func TestDiarizeSubmitAndPoll(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /diarize", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer pyk", r.Header.Get("Authorization"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "precision-1", body["model"])
		_, _ = w.Write([]byte(`{"jobId":"job-7"}`))
	})
	mux.HandleFunc("GET /jobs/job-7", func(w http.ResponseWriter, _ *http.Request) {
		if polls.Add(1) < 3 {
			_, _ = w.Write([]byte(`{"status":"running"}`))
			return
		}
		_, _ = w.Write([]byte(`{
			"status": "succeeded",
			"output": {"diarization": [
				{"speaker":"SPEAKER_00","start":0.0,"end":2.1},
				{"speaker":"SPEAKER_01","start":2.3,"end":4.0}
			]}
		}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewDiarizationClient(server.URL, "pyk", 5*time.Second, 10*time.Millisecond, time.Second)

	turns, err := client.Diarize(context.Background(), "https://objects.invalid/a.wav")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "SPEAKER_00", turns[0].Speaker)
	assert.InDelta(t, 2.3, turns[1].Start, 1e-9)
	assert.GreaterOrEqual(t, polls.Load(), int32(3))
}

func TestDiarizeResultShapes(t *testing.T) {
	// The vendor has shipped several result layouts; all of them must parse.
	shapes := []string{
		`[{"speaker":"SPEAKER_00","start":0.0,"end":1.5}]`,
		`{"status":"succeeded","output":{"segments":[{"speaker":"SPEAKER_00","start":0.0,"end":1.5}]}}`,
		`{"status":"succeeded","output":{"timeline":[{"speaker":"SPEAKER_00","start":0.0,"end":1.5}]}}`,
	}
	for i, shape := range shapes {
		mux := http.NewServeMux()
		mux.HandleFunc("POST /diarize", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"jobId":"job-1"}`))
		})
		mux.HandleFunc("GET /jobs/job-1", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(shape))
		})
		server := httptest.NewServer(mux)

		client := NewDiarizationClient(server.URL, "pyk", 5*time.Second, 10*time.Millisecond, time.Second)
		turns, err := client.Diarize(context.Background(), "https://objects.invalid/a.wav")
		server.Close()

		require.NoError(t, err, fmt.Sprintf("shape %d", i))
		require.Len(t, turns, 1, fmt.Sprintf("shape %d", i))
		assert.Equal(t, "SPEAKER_00", turns[0].Speaker)
		assert.InDelta(t, 1.5, turns[0].End, 1e-9)
	}
}

func TestDiarizeJobFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /diarize", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"jobId":"job-9"}`))
	})
	mux.HandleFunc("GET /jobs/job-9", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"failed"}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewDiarizationClient(server.URL, "pyk", 5*time.Second, 10*time.Millisecond, time.Second)

	_, err := client.Diarize(context.Background(), "https://objects.invalid/a.wav")
	assert.ErrorContains(t, err, "status failed")
}

func TestDiarizePollCap(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /diarize", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"jobId":"job-slow"}`))
	})
	mux.HandleFunc("GET /jobs/job-slow", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"running"}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewDiarizationClient(server.URL, "pyk", 5*time.Second, 5*time.Millisecond, 30*time.Millisecond)

	_, err := client.Diarize(context.Background(), "https://objects.invalid/a.wav")
	assert.ErrorContains(t, err, "did not settle")
}
