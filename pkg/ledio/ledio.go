// Package ledio writes the current FSM mode name to the LED daemon's
// IPC path so it can reflect SHADOW's state, without SHADOW owning any
// LED logic itself (spec.md's LED daemon is out of scope; SHADOW is
// only a sink writer).
package ledio

import (
	"strings"

	"github.com/cncworks/shadow/pkg/atomicfile"
)

// Sink accepts a mode name string on every FSM transition.
type Sink interface {
	WriteMode(mode string) error
}

// FileSink writes the mode name to a file via atomic rename, so the LED
// daemon never observes a torn read mid-write.
type FileSink struct {
	path string
}

// NewFileSink constructs a FileSink bound to path.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

// WriteMode atomically replaces the sink file's contents with mode.
func (f *FileSink) WriteMode(mode string) error {
	return atomicfile.Write(f.path, []byte(strings.ToLower(mode)+"\n"), 0o644)
}

// NoopSink discards every mode write; used when no LED IPC path is
// configured, so the rest of SHADOW need not special-case a nil Sink.
type NoopSink struct{}

// WriteMode implements Sink by doing nothing.
func (NoopSink) WriteMode(string) error { return nil }
