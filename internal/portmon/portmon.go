// Package portmon discovers serial ports and watches for boards being
// plugged in, using udev netlink events so no polling loop is needed.
package portmon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/pilebones/go-udev/netlink"

	"kiln/internal/logging"
)

// ErrNoSerialSupport reports that this host cannot talk to serial devices at
// all.
var ErrNoSerialSupport = errors.New("serial transport is not supported on this host")

// ErrNoPort reports that no serial port was selected or discovered.
var ErrNoPort = errors.New("no port selected")

var portGlobs = []string{"/dev/ttyUSB*", "/dev/ttyACM*"}

// Supported verifies the host can expose serial devices.
func Supported() error {
	if runtime.GOOS != "linux" {
		return fmt.Errorf("%w: %s has no supported serial device layer", ErrNoSerialSupport, runtime.GOOS)
	}
	if _, err := os.Stat("/dev"); err != nil {
		return fmt.Errorf("%w: /dev unavailable", ErrNoSerialSupport)
	}
	return nil
}

// ScanPorts lists currently attached USB serial ports, sorted.
func ScanPorts() []string {
	var ports []string
	for _, pattern := range portGlobs {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		ports = append(ports, matches...)
	}
	sort.Strings(ports)
	return ports
}

// IsSerialPort reports whether a device path looks like a USB serial port.
func IsSerialPort(device string) bool {
	base := filepath.Base(device)
	return strings.HasPrefix(base, "ttyUSB") || strings.HasPrefix(base, "ttyACM")
}

// Monitor waits for serial port attach events.
type Monitor struct {
	logger *slog.Logger
}

// NewMonitor creates a monitor.
func NewMonitor(logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Monitor{logger: logging.NewComponentLogger(logger, "portmon")}
}

// WaitForAttach blocks until a USB serial port is plugged in and returns its
// device path. Cancel ctx to give up.
func (m *Monitor) WaitForAttach(ctx context.Context) (string, error) {
	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		return "", fmt.Errorf("connect to netlink socket: %w", err)
	}
	defer conn.Close()

	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(queue, errs, attachMatcher())
	defer close(monitorQuit)

	m.logger.Info("waiting for serial port attach",
		logging.String(logging.FieldEventType, "portmon_waiting"))

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case uevent := <-queue:
			device := deviceName(uevent)
			if device == "" || !IsSerialPort(device) {
				continue
			}
			m.logger.Info("serial port attached",
				logging.String(logging.FieldPort, device),
				logging.String(logging.FieldEventType, "portmon_attached"))
			return device, nil
		case err := <-errs:
			m.logger.Warn("netlink monitor error", logging.Error(err))
		}
	}
}

// attachMatcher matches SUBSYSTEM=tty ACTION=add events.
func attachMatcher() netlink.Matcher {
	action := "add"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "tty",
		},
	})
	return rules
}

func deviceName(uevent netlink.UEvent) string {
	if devname := uevent.Env["DEVNAME"]; devname != "" {
		if !strings.HasPrefix(devname, "/dev/") {
			return "/dev/" + devname
		}
		return devname
	}
	devpath := uevent.Env["DEVPATH"]
	if devpath == "" {
		return ""
	}
	parts := strings.Split(devpath, "/")
	return "/dev/" + parts[len(parts)-1]
}
