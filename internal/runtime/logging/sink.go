package logging

import (
	"io"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// OpenSink resolves a sink target: "" or "stdout", "stderr", or a file path
// written through a rotating lumberjack writer.
func OpenSink(target string) io.WriteCloser {
	switch strings.ToLower(strings.TrimSpace(target)) {
	case "", "stdout":
		return nopCloser{os.Stdout}
	case "stderr":
		return nopCloser{os.Stderr}
	}
	return &lumberjack.Logger{
		Filename:   target,
		MaxSize:    50,
		MaxBackups: 5,
		MaxAge:     14,
		Compress:   true,
	}
}
