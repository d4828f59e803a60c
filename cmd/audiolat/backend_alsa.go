//go:build linux && (amd64 || arm64)

package main

import (
	"fmt"
	"log/slog"

	"github.com/gen2brain/audiolat"
	"github.com/gen2brain/audiolat/alsaplatform"
)

const defaultAPI = "alsa"

func newPlatform(api string, cfg *audiolat.Config, log *slog.Logger) (audiolat.Platform, error) {
	switch api {
	case "alsa":
		return alsaplatform.New(log), nil
	case "sim":
		return simPlatform(cfg), nil
	default:
		return nil, fmt.Errorf("unknown api %q", api)
	}
}
