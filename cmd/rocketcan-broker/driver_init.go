package main

import (
	"fmt"

	"github.com/mac-can/rocketcan-go/internal/candrv"
	"github.com/mac-can/rocketcan-go/internal/candrv/slcan"
	"github.com/mac-can/rocketcan-go/internal/candrv/socketcan"
)

// initDriver opens the configured demo CAN backend, generalized from
// the teacher's cmd/can-server backend.go dispatch (one function per
// backend, selected by a flag) down to the narrow candrv.Driver
// interface every backend now satisfies.
func initDriver(cfg *appConfig) (candrv.Driver, error) {
	switch cfg.backend {
	case "socketcan":
		d, err := socketcan.Open(cfg.canIf)
		if err != nil {
			return nil, fmt.Errorf("socketcan open %s: %w", cfg.canIf, err)
		}
		return d, nil
	case "slcan":
		backend := slcan.BackendTarm
		if cfg.serialDriver == "bugst" {
			backend = slcan.BackendBugst
		}
		d, err := slcan.Open(cfg.serialDev, cfg.baud, backend)
		if err != nil {
			return nil, fmt.Errorf("slcan open %s: %w", cfg.serialDev, err)
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unknown backend %q (use socketcan|slcan)", cfg.backend)
	}
}
