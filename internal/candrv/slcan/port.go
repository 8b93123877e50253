package slcan

import (
	"time"

	tarmserial "github.com/tarm/serial"
	bugstserial "go.bug.st/serial"
)

// Port abstracts the underlying serial transport, mirroring the
// teacher's internal/serial.Port — generalized here to two selectable
// backends rather than one.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// OpenTarm opens name using github.com/tarm/serial, the teacher's
// serial backend and this driver's default.
func OpenTarm(name string, baud int, readTimeout time.Duration) (Port, error) {
	cfg := &tarmserial.Config{Name: name, Baud: baud, ReadTimeout: readTimeout}
	return tarmserial.OpenPort(cfg)
}

// bugstPort adapts go.bug.st/serial.Port (which has no Close-safe
// read-timeout constructor argument; the timeout is set post-open) to
// the Port interface.
type bugstPort struct {
	bugstserial.Port
}

// OpenBugst opens name using go.bug.st/serial, selectable as an
// alternate backend (e.g. via a --serial-driver=bugst flag) for
// platforms or USB-UART chips where tarm/serial's ioctl-based
// implementation misbehaves.
func OpenBugst(name string, baud int, readTimeout time.Duration) (Port, error) {
	mode := &bugstserial.Mode{BaudRate: baud}
	p, err := bugstserial.Open(name, mode)
	if err != nil {
		return nil, err
	}
	if readTimeout > 0 {
		if err := p.SetReadTimeout(readTimeout); err != nil {
			_ = p.Close()
			return nil, err
		}
	}
	return &bugstPort{Port: p}, nil
}
