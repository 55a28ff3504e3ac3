//go:build !linux

// services/hal/internal/platform/periph_other.go
package platform

import (
	"errors"

	"dhtcode-go/services/hal/internal/halcore"
)

var ErrNoGPIOHost = errors.New("platform: GPIO lines need a linux host")

func LinuxLineFactory() (halcore.LineFactory, error) { return nil, ErrNoGPIOHost }
