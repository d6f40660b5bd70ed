package geminiservice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// --- Gemini API Configuration ---
const (
	defaultBaseURL        = "https://generativelanguage.googleapis.com/v1beta"
	defaultTextModel      = "gemini-2.5-flash"
	defaultImageModel     = "imagen-4.0-generate-001"
	defaultMaxRetries     = 3
	defaultInitialBackoff = 1 * time.Second
	defaultRequestTimeout = 30 * time.Second
	structuredMimeType    = "application/json"
)

var (
	// ErrNotConfigured is returned when no API key was supplied.
	ErrNotConfigured = errors.New("server is not configured for AI recommendations")

	// ErrEmptyResponse is returned when Gemini answers 200 but carries no text part.
	ErrEmptyResponse = errors.New("no content found in Gemini response")
)

// --- Structs for Gemini API Request/Response ---

type GeminiPayload struct {
	Contents          []GeminiContent   `json:"contents"`
	SystemInstruction *GeminiContent    `json:"systemInstruction,omitempty"`
	Tools             []GeminiTool      `json:"tools,omitempty"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
}

type GeminiContent struct {
	Parts []GeminiPart `json:"parts"`
}

type GeminiPart struct {
	Text string `json:"text,omitempty"`
}

// GeminiTool enables server-side tools. Only web search grounding is used here.
type GeminiTool struct {
	GoogleSearch *struct{} `json:"google_search,omitempty"`
}

type GenerationConfig struct {
	ResponseMimeType string        `json:"responseMimeType,omitempty"`
	ResponseSchema   *GeminiSchema `json:"responseSchema,omitempty"`
	Temperature      *float64      `json:"temperature,omitempty"`
}

type GeminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// ImagenPayload is the request body of the Imagen :predict endpoint.
type ImagenPayload struct {
	Instances  []ImagenInstance `json:"instances"`
	Parameters ImagenParameters `json:"parameters"`
}

type ImagenInstance struct {
	Prompt string `json:"prompt"`
}

type ImagenParameters struct {
	SampleCount    int    `json:"sampleCount"`
	AspectRatio    string `json:"aspectRatio,omitempty"`
	OutputMimeType string `json:"outputMimeType,omitempty"`
}

type ImagenResponse struct {
	Predictions []struct {
		BytesBase64Encoded string `json:"bytesBase64Encoded"`
		MimeType           string `json:"mimeType"`
	} `json:"predictions"`
}

/* =================================================================================
								CLIENT
=================================================================================*/

// Client talks to the Gemini REST API.
type Client struct {
	apiKey         string
	textModel      string
	imageModel     string
	baseURL        string
	maxRetries     int
	initialBackoff time.Duration
	requestTimeout time.Duration
	httpClient     *http.Client
	log            *zerolog.Logger
}

// Option customizes a Client.
type Option func(*Client)

func WithTextModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.textModel = model
		}
	}
}

func WithImageModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.imageModel = model
		}
	}
}

func WithBaseURL(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithRetry sets the attempt count and the first backoff delay; later delays double.
func WithRetry(maxRetries int, initialBackoff time.Duration) Option {
	return func(c *Client) {
		if maxRetries > 0 {
			c.maxRetries = maxRetries
		}
		if initialBackoff >= 0 {
			c.initialBackoff = initialBackoff
		}
	}
}

func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

func WithLogger(l *zerolog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// NewClient builds a Client with production defaults.
func NewClient(apiKey string, opts ...Option) *Client {
	nop := zerolog.Nop()
	c := &Client{
		apiKey:         apiKey,
		textModel:      defaultTextModel,
		imageModel:     defaultImageModel,
		baseURL:        defaultBaseURL,
		maxRetries:     defaultMaxRetries,
		initialBackoff: defaultInitialBackoff,
		requestTimeout: defaultRequestTimeout,
		log:            &nop,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.httpClient = &http.Client{Timeout: c.requestTimeout}
	return c
}

// generateContent sends payload to the text model and returns the first text part.
func (c *Client) generateContent(ctx context.Context, payload GeminiPayload) (string, error) {
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.textModel, c.apiKey)

	body, err := c.post(ctx, url, payload)
	if err != nil {
		return "", err
	}

	var geminiResp GeminiResponse
	if err := json.Unmarshal(body, &geminiResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	if len(geminiResp.Candidates) > 0 && len(geminiResp.Candidates[0].Content.Parts) > 0 {
		// Search-grounded replies may split text over several parts.
		var sb strings.Builder
		for _, p := range geminiResp.Candidates[0].Content.Parts {
			sb.WriteString(p.Text)
		}
		if text := sb.String(); text != "" {
			return text, nil
		}
	}
	return "", ErrEmptyResponse
}

// callStructuredGemini asks the text model for JSON conforming to schema.
func (c *Client) callStructuredGemini(ctx context.Context, systemPrompt, userPrompt string, schema *GeminiSchema) (string, error) {
	payload := GeminiPayload{
		SystemInstruction: &GeminiContent{
			Parts: []GeminiPart{{Text: systemPrompt}},
		},
		Contents: []GeminiContent{
			{Parts: []GeminiPart{{Text: userPrompt}}},
		},
		GenerationConfig: &GenerationConfig{
			ResponseMimeType: structuredMimeType,
			ResponseSchema:   schema,
		},
	}
	return c.generateContent(ctx, payload)
}

// post marshals payload, sends it with exponential backoff and returns the
// body of the first 200 response.
func (c *Client) post(ctx context.Context, url string, payload any) ([]byte, error) {
	if c.apiKey == "" {
		c.log.Error().Msg("GEMINI_API_KEY is not set")
		return nil, ErrNotConfigured
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	var lastErr error
	attempts := 0
	for i := 0; i < c.maxRetries; i++ {
		if i > 0 {
			backoff := c.initialBackoff * time.Duration(math.Pow(2, float64(i-1)))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		attempts++
		c.log.Debug().Int("attempt", attempts).Msg("calling Gemini API")

		body, retryable, err := c.doOnce(ctx, url, payloadBytes)
		if err == nil {
			return body, nil
		}
		lastErr = err
		c.log.Warn().Err(err).Int("attempt", attempts).Msg("Gemini attempt failed")
		if !retryable {
			break
		}
	}

	return nil, fmt.Errorf("failed to call Gemini API after %d attempts: %w", attempts, lastErr)
}

func (c *Client) doOnce(ctx context.Context, url string, payload []byte) ([]byte, bool, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// A cancelled parent context is not worth retrying.
		return nil, ctx.Err() == nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		// 4xx other than 429 will not get better on retry.
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, retryable, fmt.Errorf("API returned non-200 status: %s, Body: %s", resp.Status, string(body))
	}
	return body, false, nil
}
