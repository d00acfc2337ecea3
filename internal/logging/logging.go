// Package logging builds the prefixed loggers used across marksync,
// optionally writing through a size-rotated log file.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls log destination and rotation.
type Options struct {
	// File is the log file path; empty logs to stderr only.
	File string

	// MaxSizeMB before rotation (default 10).
	MaxSizeMB int

	// MaxBackups rotated files to keep (default 3).
	MaxBackups int

	// Console mirrors file output to stderr as well.
	Console bool
}

// Sink is a logger factory bound to one destination.
type Sink struct {
	out    io.Writer
	closer io.Closer
}

// NewSink builds the shared log destination.
func NewSink(opts Options) *Sink {
	if opts.File == "" {
		return &Sink{out: os.Stderr}
	}

	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 10
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = 3
	}

	rotated := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		Compress:   true,
	}

	var out io.Writer = rotated
	if opts.Console {
		out = io.MultiWriter(rotated, os.Stderr)
	}
	return &Sink{out: out, closer: rotated}
}

// Logger returns a logger writing to the sink with a "[name] " prefix.
func (s *Sink) Logger(name string) *log.Logger {
	return log.New(s.out, "["+name+"] ", log.LstdFlags)
}

// Close flushes and closes the underlying file, if any.
func (s *Sink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
