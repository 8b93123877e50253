package main

import "testing"

func TestInitDriver_UnknownBackend(t *testing.T) {
	cfg := validConfig()
	cfg.backend = "bogus"
	if _, err := initDriver(cfg); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestInitDriver_SocketCANOpenFailurePropagates(t *testing.T) {
	cfg := validConfig()
	cfg.backend = "socketcan"
	cfg.canIf = "rocketcan-test-iface-that-does-not-exist"
	if _, err := initDriver(cfg); err == nil {
		t.Fatalf("expected error opening a nonexistent interface")
	}
}

func TestInitDriver_SlcanOpenFailurePropagates(t *testing.T) {
	cfg := validConfig()
	cfg.backend = "slcan"
	cfg.serialDev = "/dev/rocketcan-test-device-that-does-not-exist"
	if _, err := initDriver(cfg); err == nil {
		t.Fatalf("expected error opening a nonexistent serial device")
	}
}
