//go:build !linux

package input

import (
	"context"
	"errors"
	"log/slog"
)

// Reader is only functional on Linux.
type Reader struct{}

func NewReader(paths []string, handler *Handler, logger *slog.Logger) *Reader {
	return &Reader{}
}

func (r *Reader) Run(ctx context.Context) error {
	return errors.New("input devices are only supported on linux")
}
