package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	app_errors "github.com/AlphaNoXD/pai/internal/errors"
	"github.com/AlphaNoXD/pai/internal/model"
)

// FallbackChatResponse is returned when the upstream answers successfully but
// without text at the expected place.
const FallbackChatResponse = "Sorry, I couldn't get a valid chat response."

// maxErrorBody bounds how much of an upstream error body is kept.
const maxErrorBody = 64 << 10

// AuthMode selects where the credential goes on image requests. The image
// endpoint has accepted different schemes across product versions, so it is
// configuration rather than a fixed contract.
type AuthMode string

const (
	AuthQuery  AuthMode = "query"  // ?key=<credential>
	AuthBearer AuthMode = "bearer" // Authorization: Bearer <credential>
	AuthHeader AuthMode = "header" // X-Goog-Api-Key: <credential>
)

// ParseAuthMode maps a config value to an AuthMode, defaulting to AuthQuery.
func ParseAuthMode(s string) (AuthMode, error) {
	switch AuthMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", AuthQuery:
		return AuthQuery, nil
	case AuthBearer:
		return AuthBearer, nil
	case AuthHeader:
		return AuthHeader, nil
	default:
		return "", fmt.Errorf("unknown image auth mode %q", s)
	}
}

// TextRequest asks the text endpoint to continue a conversation.
type TextRequest struct {
	APIKey   string
	Contents []model.Content
}

// ImageRequest asks the image endpoint for a single image.
type ImageRequest struct {
	APIKey    string
	ProjectID string
	Prompt    string
}

// LLMProvider is the upstream generative API as seen by the relay.
type LLMProvider interface {
	GenerateText(ctx context.Context, req *TextRequest) (string, error)
	GenerateImage(ctx context.Context, req *ImageRequest) (string, error)
}

// UpstreamError carries the upstream status and raw body for diagnostics.
type UpstreamError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s API Error: %s", e.Op, e.Body)
}

func (e *UpstreamError) Unwrap() error { return app_errors.ErrUpstream }

// GeminiOptions configures the upstream endpoints.
type GeminiOptions struct {
	TextBaseURL   string // e.g. https://generativelanguage.googleapis.com
	TextModel     string // e.g. gemini-2.5-pro
	ImageBaseURL  string // empty means https://<location>-aiplatform.googleapis.com
	ImageLocation string // e.g. us-central1
	ImageModel    string // e.g. imagegeneration@006
	ImageAuth     AuthMode
	Timeout       time.Duration
}

type geminiProvider struct {
	client *http.Client
	opts   GeminiOptions
}

func NewGeminiProvider(opts GeminiOptions) LLMProvider {
	if opts.ImageAuth == "" {
		opts.ImageAuth = AuthQuery
	}
	if opts.ImageBaseURL == "" {
		opts.ImageBaseURL = fmt.Sprintf("https://%s-aiplatform.googleapis.com", opts.ImageLocation)
	}
	return &geminiProvider{
		client: &http.Client{Timeout: opts.Timeout},
		opts:   opts,
	}
}

func (p *geminiProvider) textEndpoint() string {
	return fmt.Sprintf("%s/v1beta/models/%s:generateContent", strings.TrimRight(p.opts.TextBaseURL, "/"), p.opts.TextModel)
}

func (p *geminiProvider) imageEndpoint(projectID string) string {
	return fmt.Sprintf("%s/v1/projects/%s/locations/%s/publishers/google/models/%s:predict",
		strings.TrimRight(p.opts.ImageBaseURL, "/"),
		url.PathEscape(projectID),
		p.opts.ImageLocation,
		p.opts.ImageModel,
	)
}

func (p *geminiProvider) GenerateText(ctx context.Context, req *TextRequest) (string, error) {
	payload := map[string]interface{}{"contents": req.Contents}
	body, err := p.post(ctx, "Chat", p.textEndpoint(), AuthQuery, req.APIKey, payload)
	if err != nil {
		return "", err
	}

	if !gjson.ValidBytes(body) {
		return "", &UpstreamError{Op: "Chat", StatusCode: http.StatusOK, Body: string(body)}
	}
	text := gjson.GetBytes(body, "candidates.0.content.parts.0.text")
	if !text.Exists() || text.String() == "" {
		slog.Warn("Upstream chat response had no candidate text, using fallback")
		return FallbackChatResponse, nil
	}
	return text.String(), nil
}

func (p *geminiProvider) GenerateImage(ctx context.Context, req *ImageRequest) (string, error) {
	payload := map[string]interface{}{
		"instances":  []map[string]string{{"prompt": req.Prompt}},
		"parameters": map[string]int{"sampleCount": 1},
	}
	body, err := p.post(ctx, "Image", p.imageEndpoint(req.ProjectID), p.opts.ImageAuth, req.APIKey, payload)
	if err != nil {
		return "", err
	}

	if !gjson.ValidBytes(body) {
		return "", &UpstreamError{Op: "Image", StatusCode: http.StatusOK, Body: string(body)}
	}
	predictions := gjson.GetBytes(body, "predictions")
	if !predictions.IsArray() || len(predictions.Array()) == 0 {
		return "", &UpstreamError{Op: "Image", StatusCode: http.StatusOK, Body: "API returned no predictions."}
	}
	image := predictions.Array()[0].Get("bytesBase64Encoded")
	if !image.Exists() || image.String() == "" {
		return "", &UpstreamError{Op: "Image", StatusCode: http.StatusOK, Body: "API returned a prediction without image data."}
	}
	return image.String(), nil
}

// post sends one JSON request with the credential attached per mode and
// returns the body of a 2xx response. Anything else is an UpstreamError.
func (p *geminiProvider) post(ctx context.Context, op, endpoint string, mode AuthMode, apiKey string, payload interface{}) ([]byte, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("could not marshal %s request: %w", strings.ToLower(op), err)
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid %s endpoint: %w", strings.ToLower(op), err)
	}
	if mode == AuthQuery {
		q := u.Query()
		q.Set("key", apiKey)
		u.RawQuery = q.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("could not create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	switch mode {
	case AuthBearer:
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	case AuthHeader:
		httpReq.Header.Set("X-Goog-Api-Key", apiKey)
	}

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		// The url in a *url.Error may carry the key, so only the cause is kept.
		var cause error = err
		var uerr *url.Error
		if errors.As(err, &uerr) {
			cause = uerr.Err
		}
		return nil, &UpstreamError{Op: op, StatusCode: http.StatusBadGateway, Body: fmt.Sprintf("request failed: %v", cause)}
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			slog.Warn("Failed to close upstream response body", "error", cerr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		slog.Error("Upstream request failed", "op", op, "status", resp.StatusCode, "body", string(bodyBytes))
		return nil, &UpstreamError{Op: op, StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamError{Op: op, StatusCode: resp.StatusCode, Body: fmt.Sprintf("could not read response body: %v", err)}
	}
	slog.Debug("Upstream request completed", "op", op, "status", resp.StatusCode, "duration", time.Since(start))
	return bodyBytes, nil
}
