// Package flasher defines the device-side contract for writing firmware to a
// serial-attached microcontroller. Implementations wrap a concrete flashing
// tool; callers only see ports, images, and progress.
package flasher

import "context"

// Image is one firmware binary staged for writing at a flash offset.
type Image struct {
	Path   string
	Offset uint32
	Size   int64
}

// WriteOptions controls how images are written.
type WriteOptions struct {
	// EraseAll wipes the entire flash before writing instead of only the
	// regions being written.
	EraseAll bool
	// Compress transfers images compressed when the tool supports it.
	Compress bool
}

// ProgressFunc receives write progress: the index of the image currently
// being written and its completion percent in [0, 100].
type ProgressFunc func(imageIndex int, percent float64)

// Device is an open connection to a flashable board.
type Device interface {
	// Connect synchronizes with the bootloader and identifies the chip.
	Connect(ctx context.Context) error
	// ChipName reports the detected chip after a successful Connect.
	ChipName() string
	// EraseFlash wipes the entire flash.
	EraseFlash(ctx context.Context) error
	// WriteImages writes each image at its offset, in order.
	WriteImages(ctx context.Context, images []Image, opts WriteOptions, progress ProgressFunc) error
	// HardReset reboots the board into the freshly written application.
	HardReset(ctx context.Context) error
	Close() error
}

// Opener creates a Device for a serial port.
type Opener interface {
	Open(ctx context.Context, port string, baud int) (Device, error)
}

// TotalSize sums the sizes of all images.
func TotalSize(images []Image) int64 {
	var total int64
	for _, img := range images {
		total += img.Size
	}
	return total
}
