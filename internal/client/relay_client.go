package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	app_errors "github.com/AlphaNoXD/pai/internal/errors"
	"github.com/AlphaNoXD/pai/internal/model"
)

// RelayError is a non-2xx answer from the relay.
type RelayError struct {
	StatusCode int
	Message    string
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("relay returned %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps the relay's status code back onto an error kind. A 500 carrying
// one of the missing-credential messages is a relay configuration problem.
func (e *RelayError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusBadRequest || e.StatusCode == http.StatusMethodNotAllowed:
		return app_errors.ErrValidation
	case e.StatusCode == http.StatusInternalServerError &&
		(e.Message == model.MsgMissingAPIKey || e.Message == model.MsgMissingProjectID):
		return app_errors.ErrConfiguration
	case e.StatusCode >= 500:
		return app_errors.ErrUpstream
	default:
		return app_errors.ErrInternal
	}
}

// RelayClient calls the relay endpoint over HTTP.
type RelayClient struct {
	http *http.Client
	url  string
}

func NewRelayClient(url string, timeout time.Duration) *RelayClient {
	return &RelayClient{http: &http.Client{Timeout: timeout}, url: url}
}

// Chat sends the conversation history and returns the model's reply text.
func (c *RelayClient) Chat(ctx context.Context, history []model.Content) (string, error) {
	resp, err := c.do(ctx, &model.RelayRequest{Type: model.RequestChat, History: history})
	if err != nil {
		return "", err
	}
	return resp.Response, nil
}

// Image asks for an image and returns its base64 payload.
func (c *RelayClient) Image(ctx context.Context, prompt string) (string, error) {
	resp, err := c.do(ctx, &model.RelayRequest{Type: model.RequestImage, Prompt: prompt})
	if err != nil {
		return "", err
	}
	return resp.Response, nil
}

func (c *RelayClient) do(ctx context.Context, req *model.RelayRequest) (*model.RelayResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("could not marshal relay request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("could not create relay request: %w", err)
	}
	requestID := uuid.NewString()
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-Id", requestID)

	slog.Debug("Calling relay", "type", req.Type, "request_id", requestID)
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("relay request failed: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			slog.Warn("Failed to close relay response body", "error", cerr)
		}
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read relay response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Error string `json:"error"`
		}
		message := string(raw)
		if json.Unmarshal(raw, &errResp) == nil && errResp.Error != "" {
			message = errResp.Error
		}
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return nil, &RelayError{StatusCode: resp.StatusCode, Message: message}
	}

	var out model.RelayResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("could not decode relay response: %w", err)
	}
	return &out, nil
}
