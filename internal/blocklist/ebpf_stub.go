//go:build !linux

package blocklist

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/wardstone/wardstone/internal/config"
	"github.com/wardstone/wardstone/internal/monitoring"
)

// XDPMirror is only available on Linux.
type XDPMirror struct{}

// NewXDPMirror always fails off Linux; callers treat the error as
// "offload unavailable" and run without it.
func NewXDPMirror(config.EBPFConfig, *monitoring.Metrics, zerolog.Logger) (*XDPMirror, error) {
	return nil, errors.New("xdp offload requires linux")
}

func (*XDPMirror) Name() string                          { return "xdp" }
func (*XDPMirror) Block(context.Context, Entry) error    { return nil }
func (*XDPMirror) Unblock(context.Context, string) error { return nil }
func (*XDPMirror) Close() error                          { return nil }
