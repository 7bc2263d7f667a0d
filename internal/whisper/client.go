// Package whisper is an HTTP client for a local whisper.cpp-style
// transcription server exposing the OpenAI-compatible
// /v1/audio/transcriptions endpoint.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// Client communicates with a local transcription server over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client targeting the given transcription server base URL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 0,
		},
	}
}

// IsRunning returns true if the server responds to GET /health with 200.
func (c *Client) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// segment is one timed span of the verbose transcription response.
type segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// transcriptionResponse mirrors the verbose_json response format.
type transcriptionResponse struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Segments []segment `json:"segments"`
}

// Transcript is the result of transcribing one audio file.
type Transcript struct {
	Text     string    // full transcript without timestamps
	Language string    // detected language, may be empty
	Segments []Segment // timed spans, may be empty for plain responses
}

// Segment is one timed span of a transcript.
type Segment struct {
	Start float64
	End   float64
	Text  string
}

// Transcribe uploads audio bytes and returns the transcript. The filename is
// passed through so the server can sniff the container format from its
// extension. Cancellation and deadlines come from ctx.
func (c *Client) Transcribe(ctx context.Context, filename string, audio []byte) (Transcript, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return Transcript{}, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return Transcript{}, fmt.Errorf("writing audio bytes: %w", err)
	}
	if err := mw.WriteField("response_format", "verbose_json"); err != nil {
		return Transcript{}, fmt.Errorf("writing response_format field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return Transcript{}, fmt.Errorf("closing multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/audio/transcriptions", &buf)
	if err != nil {
		return Transcript{}, fmt.Errorf("creating transcription request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Transcript{}, fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return Transcript{}, fmt.Errorf("transcription: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Transcript{}, fmt.Errorf("decoding transcription response: %w", err)
	}

	t := Transcript{
		Text:     strings.TrimSpace(result.Text),
		Language: result.Language,
	}
	for _, s := range result.Segments {
		t.Segments = append(t.Segments, Segment{Start: s.Start, End: s.End, Text: strings.TrimSpace(s.Text)})
	}
	return t, nil
}
