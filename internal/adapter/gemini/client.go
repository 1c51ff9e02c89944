// Package gemini implements domain.Extractor against the Google Gemini
// generateContent API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tidwall/jsonc"
)

// ErrMissingAPIKey is returned by Extract when no key was configured.
var ErrMissingAPIKey = errors.New("gemini: GEMINI_API_KEY (or GOOGLE_API_KEY) is not set")

// APIError is a non-200 response from the Gemini API.
type APIError struct {
	StatusCode int
	Status     string // e.g. "INVALID_ARGUMENT", "RESOURCE_EXHAUSTED"
	Message    string
}

func (err *APIError) Error() string {
	if err.Status != "" {
		return fmt.Sprintf("gemini: HTTP %d: %s: %s", err.StatusCode, err.Status, err.Message)
	}
	return fmt.Sprintf("gemini: HTTP %d: %s", err.StatusCode, err.Message)
}

// IsRateLimited reports whether the API rejected the call for quota reasons.
func (err *APIError) IsRateLimited() bool {
	return err.StatusCode == http.StatusTooManyRequests
}

// Client calls generateContent for a single model.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Gemini client. baseURL is the versioned API root,
// e.g. https://generativelanguage.googleapis.com/v1.
func NewClient(apiKey, model, baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		apiKey:     apiKey,
		model:      model,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Extract asks the model to pull incident fields out of text and returns
// the decoded JSON object as-is. Field validation is left to the caller.
func (c *Client) Extract(ctx context.Context, text string) (map[string]any, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	reply, err := c.generate(ctx, buildPrompt(text))
	if err != nil {
		return nil, err
	}

	fields, err := decodeReply(reply)
	if err != nil {
		c.logger.Warn("gemini reply was not valid JSON",
			"error", err,
			"model", c.model,
			"reply", truncate(reply, 500),
		)
		return nil, err
	}
	return fields, nil
}

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			Temperature:     0.7,
			TopP:            0.95,
			TopK:            40,
			MaxOutputTokens: 512,
			CandidateCount:  1,
		},
	})
	if err != nil {
		return "", fmt.Errorf("gemini: marshaling request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("gemini: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini: sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", readAPIError(resp)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("gemini: decoding response: %w", err)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("gemini: response has no candidate text")
	}
	return out.Candidates[0].Content.Parts[0].Text, nil
}

func readAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var wire struct {
		Error struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &wire) == nil && wire.Error.Message != "" {
		return &APIError{StatusCode: resp.StatusCode, Status: wire.Error.Status, Message: wire.Error.Message}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
}

// decodeReply turns the model's free text into a JSON object. Models wrap
// replies in markdown fences, leave comments and trailing commas, or add
// prose around the object.
func decodeReply(reply string) (map[string]any, error) {
	cleaned := jsonc.ToJSON([]byte(stripFences(reply)))

	start := bytes.IndexByte(cleaned, '{')
	end := bytes.LastIndexByte(cleaned, '}')
	if start < 0 || end < start {
		return nil, errors.New("gemini: reply contains no JSON object")
	}

	dec := json.NewDecoder(bytes.NewReader(cleaned[start : end+1]))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("gemini: decoding reply: %w", err)
	}
	return fields, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	lines = lines[1:]
	if n := len(lines); n > 0 && strings.HasPrefix(strings.TrimSpace(lines[n-1]), "```") {
		lines = lines[:n-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

const promptTemplate = `You are an assistant for Kyzylorda city, Kazakhstan. Extract incident information from news text.

EXAMPLE OUTPUT (copy this format exactly):
{"location": "улица Абая", "event_type": "road_work", "severity": "medium", "duration": "2 hours", "coordinates": {"lat": 44.85, "lng": 65.5}}

RULES:
1. Extract the EXACT street/location name from the text (keep it in original language - Russian or Kazakh)
2. event_type options: "road_work", "emergency", "repair"
3. severity options: "low", "medium", "high", "critical"
4. duration: extract from text or "unknown"
5. coordinates: your best guess inside Kyzylorda, or omit the field
6. For road_work along a street segment you may add "path": [[lat, lng], [lat, lng]] with the segment's end points
7. Return ONLY valid JSON - no comments, no markdown, no extra text

NEWS TEXT:
"""%s"""`

func buildPrompt(text string) string {
	return fmt.Sprintf(promptTemplate, text)
}

// Gemini wire types.

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"topP"`
	TopK            int     `json:"topK"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
	CandidateCount  int     `json:"candidateCount"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}
