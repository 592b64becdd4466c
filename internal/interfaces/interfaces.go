package interfaces

import (
	"context"

	"github.com/AlphaNoXD/pai/internal/model"
)

// RelayService is what the HTTP layer needs from the relay.
type RelayService interface {
	Relay(ctx context.Context, req *model.RelayRequest) (*model.RelayResponse, error)
}
