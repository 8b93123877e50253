package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mac-can/rocketcan-go/internal/broker"
)

type appConfig struct {
	backend      string
	canIf        string
	serialDev    string
	serialDriver string
	baud         int
	serialReadTO time.Duration

	listenPort  int
	nominalBps  int
	dataBps     int
	fdMode      bool
	listenOnly  bool

	logFormat       string
	logLevel        string
	eventLogLevel   string
	metricsAddr     string
	logMetricsEvery time.Duration

	mdnsEnable bool
	mdnsName   string

	securityRisksAccepted bool
}

// errSecurityRisksNotAccepted is returned by parseFlags when the
// operator has not affirmed --security-risks="I ACCEPT"; the CAN
// driver contract hands this binary direct access to a physical bus,
// and the RocketCAN CLI it's modeled on refuses to start without the
// same explicit acknowledgement.
var errSecurityRisksNotAccepted = errors.New("refusing to start: pass --security-risks=\"I ACCEPT\" to acknowledge direct bus access")

func parseFlags() (*appConfig, bool, error) {
	cfg := &appConfig{}
	backend := flag.String("backend", "socketcan", "CAN backend: socketcan|slcan")
	canIf := flag.String("can-if", "can0", "SocketCAN interface (when --backend=socketcan)")
	serialDev := flag.String("serial", "/dev/ttyUSB0", "Serial device path (when --backend=slcan)")
	serialDriver := flag.String("serial-driver", "tarm", "Serial library: tarm|bugst (when --backend=slcan)")
	baud := flag.Int("baud", 115200, "Serial baud rate (when --backend=slcan)")
	serialReadTO := flag.Duration("serial-read-timeout", 50*time.Millisecond, "Serial read poll interval (when --backend=slcan)")

	listenPort := flag.Int("listen-port", 20000, "TCP port the broker listens on")
	nominalBps := flag.Int("bitrate", 500000, "Nominal CAN bit-rate (bits/sec)")
	dataBps := flag.Int("data-bitrate", 2000000, "CAN FD data-phase bit-rate (bits/sec)")
	fdMode := flag.Bool("fd", false, "Enable CAN FD operation mode")
	listenOnly := flag.Bool("listen-only", false, "Open the controller in listen-only (passive) mode")

	logFormat := flag.String("log-format", "text", "Process log format: text|json")
	logLevel := flag.String("log-level", "info", "Process log level: debug|info|warn|error")
	eventLogLevel := flag.String("logging", "info", "Protocol event log verbosity: none|info|data|all")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters")

	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS/Avahi advertisement")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default rocketcan-broker-<hostname>)")

	securityRisks := flag.String("security-risks", "", `Must be "I ACCEPT" to start: this process opens direct read/write access to a CAN bus`)
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	cfg.backend = *backend
	cfg.canIf = *canIf
	cfg.serialDev = *serialDev
	cfg.serialDriver = *serialDriver
	cfg.baud = *baud
	cfg.serialReadTO = *serialReadTO
	cfg.listenPort = *listenPort
	cfg.nominalBps = *nominalBps
	cfg.dataBps = *dataBps
	cfg.fdMode = *fdMode
	cfg.listenOnly = *listenOnly
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.eventLogLevel = *eventLogLevel
	cfg.metricsAddr = *metricsAddr
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName
	cfg.securityRisksAccepted = *securityRisks == "I ACCEPT"

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		return nil, *showVersion, err
	}
	if *showVersion {
		return cfg, true, nil
	}
	if err := cfg.validate(); err != nil {
		return nil, false, err
	}
	return cfg, false, nil
}

func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if !c.securityRisksAccepted {
		return errSecurityRisksNotAccepted
	}
	switch c.backend {
	case "socketcan", "slcan":
	default:
		return fmt.Errorf("invalid backend: %s", c.backend)
	}
	switch c.serialDriver {
	case "tarm", "bugst":
	default:
		return fmt.Errorf("invalid serial-driver: %s", c.serialDriver)
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	if _, err := parseEventLogLevel(c.eventLogLevel); err != nil {
		return err
	}
	if c.listenPort < 0 || c.listenPort > 65535 {
		return fmt.Errorf("listen-port out of range: %d", c.listenPort)
	}
	if c.nominalBps <= 0 {
		return fmt.Errorf("bitrate must be > 0 (got %d)", c.nominalBps)
	}
	if c.fdMode && c.dataBps <= 0 {
		return fmt.Errorf("data-bitrate must be > 0 when --fd is set")
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.serialReadTO <= 0 {
		return fmt.Errorf("serial-read-timeout must be > 0")
	}
	return nil
}

func parseEventLogLevel(s string) (broker.Level, error) {
	switch strings.ToLower(s) {
	case "none":
		return broker.LogNone, nil
	case "info":
		return broker.LogInfo, nil
	case "data":
		return broker.LogData, nil
	case "all":
		return broker.LogAll, nil
	default:
		return 0, fmt.Errorf("invalid logging level: %s", s)
	}
}

// applyEnvOverrides maps ROCKETCAN_* environment variables onto cfg
// unless the corresponding flag was explicitly set, adapted from the
// teacher's cmd/can-server/config.go applyEnvOverrides (flag wins over
// env; lax numeric/duration/bool parsing).
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	noteErr := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}

	if _, ok := set["backend"]; !ok {
		if v, ok := get("ROCKETCAN_BACKEND"); ok && v != "" {
			c.backend = v
		}
	}
	if _, ok := set["can-if"]; !ok {
		if v, ok := get("ROCKETCAN_CAN_IF"); ok && v != "" {
			c.canIf = v
		}
	}
	if _, ok := set["serial"]; !ok {
		if v, ok := get("ROCKETCAN_SERIAL"); ok && v != "" {
			c.serialDev = v
		}
	}
	if _, ok := set["serial-driver"]; !ok {
		if v, ok := get("ROCKETCAN_SERIAL_DRIVER"); ok && v != "" {
			c.serialDriver = v
		}
	}
	if _, ok := set["baud"]; !ok {
		if v, ok := get("ROCKETCAN_BAUD"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.baud = n
			} else if err != nil {
				noteErr(fmt.Errorf("invalid ROCKETCAN_BAUD: %w", err))
			}
		}
	}
	if _, ok := set["listen-port"]; !ok {
		if v, ok := get("ROCKETCAN_LISTEN_PORT"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.listenPort = n
			} else {
				noteErr(fmt.Errorf("invalid ROCKETCAN_LISTEN_PORT: %w", err))
			}
		}
	}
	if _, ok := set["bitrate"]; !ok {
		if v, ok := get("ROCKETCAN_BITRATE"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.nominalBps = n
			} else {
				noteErr(fmt.Errorf("invalid ROCKETCAN_BITRATE: %w", err))
			}
		}
	}
	if _, ok := set["data-bitrate"]; !ok {
		if v, ok := get("ROCKETCAN_DATA_BITRATE"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.dataBps = n
			} else {
				noteErr(fmt.Errorf("invalid ROCKETCAN_DATA_BITRATE: %w", err))
			}
		}
	}
	if _, ok := set["fd"]; !ok {
		if v, ok := get("ROCKETCAN_FD"); ok && v != "" {
			c.fdMode = parseBoolLax(v, c.fdMode)
		}
	}
	if _, ok := set["listen-only"]; !ok {
		if v, ok := get("ROCKETCAN_LISTEN_ONLY"); ok && v != "" {
			c.listenOnly = parseBoolLax(v, c.listenOnly)
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("ROCKETCAN_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("ROCKETCAN_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["logging"]; !ok {
		if v, ok := get("ROCKETCAN_LOGGING"); ok && v != "" {
			c.eventLogLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("ROCKETCAN_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("ROCKETCAN_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else {
				noteErr(fmt.Errorf("invalid ROCKETCAN_LOG_METRICS_INTERVAL: %w", err))
			}
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("ROCKETCAN_MDNS_ENABLE"); ok && v != "" {
			c.mdnsEnable = parseBoolLax(v, c.mdnsEnable)
		}
	}
	if _, ok := set["mdns-name"]; !ok {
		if v, ok := get("ROCKETCAN_MDNS_NAME"); ok && v != "" {
			c.mdnsName = v
		}
	}
	if !c.securityRisksAccepted {
		if v, ok := get("ROCKETCAN_SECURITY_RISKS"); ok && v == "I ACCEPT" {
			c.securityRisksAccepted = true
		}
	}
	return firstErr
}

func parseBoolLax(v string, fallback bool) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
