//go:build !(linux && (amd64 || arm64))

package main

import (
	"fmt"
	"log/slog"

	"github.com/gen2brain/audiolat"
)

const defaultAPI = "sim"

func newPlatform(api string, cfg *audiolat.Config, _ *slog.Logger) (audiolat.Platform, error) {
	switch api {
	case "sim":
		return simPlatform(cfg), nil
	case "alsa":
		return nil, fmt.Errorf("alsa is not available on this platform")
	default:
		return nil, fmt.Errorf("unknown api %q", api)
	}
}
