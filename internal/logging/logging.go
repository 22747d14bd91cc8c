// Package logging routes the standard logger of the radio binaries to stdout
// or to a size-rotated file.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/NV4RE/rfm69/internal/config"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Setup configures the standard logger and returns a logger for the driver
// sharing the same output. The closer releases the log file, if any.
func Setup(cfg config.LogConfig, prefix string) (*log.Logger, io.Closer) {
	flags := log.LstdFlags
	if cfg.Verbose {
		flags |= log.Lmicroseconds | log.Lshortfile
	}

	var w io.Writer = os.Stdout
	var c io.Closer = nopCloser{}
	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		w, c = lj, lj
	}

	log.SetOutput(w)
	log.SetFlags(flags)
	log.SetPrefix(prefix)
	return log.New(w, prefix, flags), c
}
