package service

import (
	"context"
	"log/slog"
	"strings"

	app_errors "github.com/AlphaNoXD/pai/internal/errors"
	"github.com/AlphaNoXD/pai/internal/llm"
	"github.com/AlphaNoXD/pai/internal/model"
	"github.com/AlphaNoXD/pai/internal/validation"
)

// Client-facing messages for failed preconditions.
const (
	MsgMissingAPIKey    = model.MsgMissingAPIKey
	MsgMissingProjectID = model.MsgMissingProjectID
	MsgMissingHistory   = "Chat history is missing."
	MsgMissingPrompt    = "Image prompt is missing."
)

// Credentials are the server-side secrets the relay injects.
type Credentials struct {
	APIKey    string
	ProjectID string // only needed for image generation
}

// RelayService forwards one client request to the upstream API. It keeps no
// state between calls.
type RelayService struct {
	llm   llm.LLMProvider
	creds Credentials
}

func NewRelayService(provider llm.LLMProvider, creds Credentials) *RelayService {
	return &RelayService{llm: provider, creds: creds}
}

// Relay checks preconditions in a fixed order (configuration first, then the
// request body) and performs exactly one upstream call.
func (s *RelayService) Relay(ctx context.Context, req *model.RelayRequest) (*model.RelayResponse, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}

	kind := req.Kind()
	var (
		result string
		err    error
	)
	switch kind {
	case model.RequestImage:
		slog.Info("Relaying image request", "prompt_chars", len(req.Prompt))
		result, err = s.llm.GenerateImage(ctx, &llm.ImageRequest{
			APIKey:    s.creds.APIKey,
			ProjectID: s.creds.ProjectID,
			Prompt:    req.Prompt,
		})
	default:
		slog.Info("Relaying chat request", "history_len", len(req.History))
		result, err = s.llm.GenerateText(ctx, &llm.TextRequest{
			APIKey:   s.creds.APIKey,
			Contents: req.History,
		})
	}
	if err != nil {
		return nil, err
	}
	return &model.RelayResponse{Response: result, Type: kind}, nil
}

func (s *RelayService) check(req *model.RelayRequest) error {
	if s.creds.APIKey == "" {
		return app_errors.New(app_errors.ErrConfiguration, MsgMissingAPIKey)
	}
	if req.Kind() == model.RequestImage {
		if s.creds.ProjectID == "" {
			return app_errors.New(app_errors.ErrConfiguration, MsgMissingProjectID)
		}
		if strings.TrimSpace(req.Prompt) == "" {
			return app_errors.New(app_errors.ErrValidation, MsgMissingPrompt)
		}
		return nil
	}
	if len(req.History) == 0 {
		return app_errors.New(app_errors.ErrValidation, MsgMissingHistory)
	}
	return validation.Struct(req)
}
