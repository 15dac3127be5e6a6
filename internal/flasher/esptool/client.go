// Package esptool drives the esptool command-line utility to flash ESP32
// family boards over a serial port.
package esptool

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"kiln/internal/flasher"
)

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onStdout func(string)) error
}

// Option configures the opener.
type Option func(*Opener)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(o *Opener) {
		if exec != nil {
			o.exec = exec
		}
	}
}

// Opener creates esptool-backed devices.
type Opener struct {
	binary string
	exec   Executor
}

// New constructs an opener around the esptool binary.
func New(binary string, opts ...Option) (*Opener, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("esptool binary required")
	}
	opener := &Opener{
		binary: binary,
		exec:   commandExecutor{},
	}
	for _, opt := range opts {
		opt(opener)
	}
	return opener, nil
}

// Open binds a device to a serial port. No process is started until Connect.
func (o *Opener) Open(_ context.Context, port string, baud int) (flasher.Device, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		return nil, errors.New("serial port required")
	}
	if baud <= 0 {
		return nil, fmt.Errorf("invalid baud rate %d", baud)
	}
	return &device{
		binary: o.binary,
		port:   port,
		baud:   baud,
		exec:   o.exec,
	}, nil
}

type device struct {
	binary string
	port   string
	baud   int
	exec   Executor
	chip   string
}

func (d *device) baseArgs() []string {
	return []string{"--port", d.port, "--baud", strconv.Itoa(d.baud)}
}

// Connect probes the bootloader and records the detected chip name.
func (d *device) Connect(ctx context.Context) error {
	args := append(d.baseArgs(), "chip_id")
	err := d.exec.Run(ctx, d.binary, args, func(line string) {
		if chip, ok := parseChipName(line); ok {
			d.chip = chip
		}
	})
	if err != nil {
		return fmt.Errorf("failed to connect to device on %s: %w", d.port, err)
	}
	return nil
}

func (d *device) ChipName() string {
	return d.chip
}

func (d *device) EraseFlash(ctx context.Context) error {
	args := append(d.baseArgs(), "erase_flash")
	if err := d.exec.Run(ctx, d.binary, args, nil); err != nil {
		return fmt.Errorf("erase flash: %w", err)
	}
	return nil
}

func (d *device) WriteImages(ctx context.Context, images []flasher.Image, opts flasher.WriteOptions, progress flasher.ProgressFunc) error {
	if len(images) == 0 {
		return errors.New("no firmware images to write")
	}

	args := append(d.baseArgs(), "write_flash")
	if opts.EraseAll {
		args = append(args, "--erase-all")
	}
	if opts.Compress {
		args = append(args, "-z")
	}
	for _, img := range images {
		args = append(args, fmt.Sprintf("0x%X", img.Offset), img.Path)
	}

	imageIndex := 0
	err := d.exec.Run(ctx, d.binary, args, func(line string) {
		if progress == nil || imageIndex >= len(images) {
			return
		}
		if percent, ok := parseWritePercent(line); ok {
			progress(imageIndex, percent)
			return
		}
		if isWriteComplete(line) {
			progress(imageIndex, 100)
			imageIndex++
		}
	})
	if err != nil {
		return fmt.Errorf("flash write failed: %w", err)
	}
	return nil
}

func (d *device) HardReset(ctx context.Context) error {
	args := append(d.baseArgs(), "run")
	if err := d.exec.Run(ctx, d.binary, args, nil); err != nil {
		return fmt.Errorf("reset device: %w", err)
	}
	return nil
}

func (d *device) Close() error {
	// Each operation runs its own process; nothing stays open.
	return nil
}

// parseChipName extracts the chip model from esptool's "Chip is ..." line.
func parseChipName(line string) (string, bool) {
	line = strings.TrimSpace(line)
	const prefix = "Chip is "
	if !strings.HasPrefix(line, prefix) {
		return "", false
	}
	name := strings.TrimSpace(strings.TrimPrefix(line, prefix))
	if idx := strings.Index(name, " ("); idx > 0 {
		name = name[:idx]
	}
	if name == "" {
		return "", false
	}
	return name, true
}

// parseWritePercent extracts the percent from lines like
// "Writing at 0x00010000... (42 %)".
func parseWritePercent(line string) (float64, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "Writing at ") {
		return 0, false
	}
	open := strings.LastIndex(line, "(")
	end := strings.LastIndex(line, "%")
	if open < 0 || end < open {
		return 0, false
	}
	percent, err := strconv.ParseFloat(strings.TrimSpace(line[open+1:end]), 64)
	if err != nil {
		return 0, false
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return percent, true
}

// isWriteComplete reports whether the line marks the end of one image, e.g.
// "Wrote 434176 bytes at 0x00010000 in 5.4 seconds".
func isWriteComplete(line string) bool {
	line = strings.TrimSpace(line)
	return strings.HasPrefix(line, "Wrote ") && strings.Contains(line, " bytes")
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string, onStdout func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	var wg sync.WaitGroup
	var scanErr error
	var once sync.Once

	scan := func(r io.Reader, forward func(string)) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			forward(scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			once.Do(func() {
				scanErr = err
			})
		}
	}

	forward := func(line string) {
		if onStdout != nil {
			onStdout(line)
			return
		}
		fmt.Fprintln(os.Stderr, line)
	}

	wg.Add(2)
	go scan(stdout, forward)
	go scan(stderr, forward)

	wg.Wait()
	if scanErr != nil {
		_ = cmd.Process.Kill()
		return fmt.Errorf("scan output: %w", scanErr)
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("wait command: %w", err)
	}
	return nil
}
