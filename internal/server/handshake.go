package server

import (
	"context"
	"net"

	"github.com/kstaniek/go-uavcan-can/internal/relaywire"
)

// RelayHandshake runs the required TCP hello exchange.
func (s *Server) RelayHandshake(ctx context.Context, c net.Conn) error {
	return relaywire.Handshake(ctx, c, s.handshakeTimeout)
}
