package testutil

import (
	"bytes"
	"log"
	"os"
	"testing"
)

// TestLogger returns a logger tagged with the test name. Goroutines that
// outlive the test keep logging to stderr.
func TestLogger(t *testing.T) *log.Logger {
	logger := log.New(os.Stdout, "["+t.Name()+"] ", log.LstdFlags|log.Lmicroseconds)
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
	})
	return logger
}

// BufferLogger returns a logger writing into the returned buffer.
func BufferLogger(t *testing.T) (*log.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	logger := TestLogger(t)
	logger.SetOutput(buf)
	return logger, buf
}
