package services

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// MessagingSurface drives the chat front end. Implementations return an error
// when the target element cannot be found or the action is rejected.
type MessagingSurface interface {
	SendText(ctx context.Context, text string) error
	SendMedia(ctx context.Context, path string) error
	InsertText(ctx context.Context, text string) error
	FocusInput(ctx context.Context) error
}

const (
	opSendText   = "send_text"
	opSendMedia  = "send_media"
	opInsertText = "insert_text"
	opFocusInput = "focus_input"
)

func surfaceErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &SurfaceError{Op: op, Err: err}
}

// WriterSurface prints every action to a writer. The CLI uses it to preview
// what would be delivered.
type WriterSurface struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSurface creates a surface writing to w.
func NewWriterSurface(w io.Writer) *WriterSurface {
	return &WriterSurface{w: w}
}

func (s *WriterSurface) SendText(ctx context.Context, text string) error {
	return s.printf(ctx, "[send] %s\n", text)
}

func (s *WriterSurface) SendMedia(ctx context.Context, path string) error {
	return s.printf(ctx, "[media] %s\n", path)
}

func (s *WriterSurface) InsertText(ctx context.Context, text string) error {
	return s.printf(ctx, "[insert] %s\n", text)
}

func (s *WriterSurface) FocusInput(ctx context.Context) error {
	return s.printf(ctx, "[focus]\n")
}

func (s *WriterSurface) printf(ctx context.Context, format string, args ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.w, format, args...)
	return err
}

var _ MessagingSurface = (*WriterSurface)(nil)
