package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	app_errors "github.com/AlphaNoXD/pai/internal/errors"
	"github.com/AlphaNoXD/pai/internal/interfaces"
	"github.com/AlphaNoXD/pai/internal/model"
)

const (
	msgMethodNotAllowed = "Method Not Allowed"
	msgInvalidPayload   = "Invalid request payload"
	msgPayloadTooLarge  = "Request payload too large"
)

type RelayHandler struct {
	service      interfaces.RelayService
	maxBodyBytes int64
}

// NewRelayHandler builds the handler for the proxy endpoint. A non-positive
// maxBodyBytes disables the size limit.
func NewRelayHandler(svc interfaces.RelayService, maxBodyBytes int64) *RelayHandler {
	return &RelayHandler{service: svc, maxBodyBytes: maxBodyBytes}
}

// HandleProxy godoc
// @Summary      Relay a chat or image request
// @Description  Forwards a chat history or an image prompt to the generative API with the server-side credential and returns the normalized result.
// @Tags         relay
// @Accept       json
// @Produce      json
// @Param        request  body      model.RelayRequest  true  "Chat history or image prompt"
// @Success      200      {object}  model.RelayResponse
// @Failure      400      {object}  ErrorResponse
// @Failure      405      {object}  ErrorResponse
// @Failure      500      {object}  ErrorResponse
// @Router       /proxy [post]
func (h *RelayHandler) HandleProxy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		respondWithJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: msgMethodNotAllowed})
		return
	}

	req, err := h.decode(w, r)
	if err != nil {
		respondWithError(w, err)
		return
	}

	resp, err := h.service.Relay(r.Context(), req)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, resp)
}

// decode reads the request body. An empty body is read as an empty object so
// the relay reports the missing field rather than a parse failure.
func (h *RelayHandler) decode(w http.ResponseWriter, r *http.Request) (*model.RelayRequest, error) {
	body := r.Body
	if h.maxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, app_errors.New(app_errors.ErrValidation, msgPayloadTooLarge)
		}
		slog.Warn("Failed to read request body", "error", err)
		return nil, app_errors.New(app_errors.ErrValidation, msgInvalidPayload)
	}

	var req model.RelayRequest
	if len(bytes.TrimSpace(raw)) == 0 {
		return &req, nil
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		slog.Debug("Failed to decode relay request", "error", err)
		return nil, app_errors.New(app_errors.ErrValidation, msgInvalidPayload)
	}
	return &req, nil
}
