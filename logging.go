package main

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
)

// DebugMode mirrors the teacher's global debug flag: when false, DEBUG
// lines are suppressed from stderr but INFO+ still reaches the log file.
var DebugMode bool

// fileLogger writes INFO lines to a rotating, gzip-compressed log file,
// grounded on the teacher's httpLogger/log file handling in main.go but
// adapted from an HTTP access log to a generic line sink.
type fileLogger struct {
	mu          sync.Mutex
	path        string
	maxSize     int64
	f           *os.File
	writtenSize int64
}

func newFileLogger(path string, maxSize int64) (*fileLogger, error) {
	if path == "" {
		return nil, nil
	}
	fl := &fileLogger{path: path, maxSize: maxSize}
	if err := fl.open(); err != nil {
		return nil, err
	}
	return fl, nil
}

func (fl *fileLogger) open() error {
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening log file %s: %w", fl.path, err)
	}
	info, statErr := f.Stat()
	if statErr == nil {
		fl.writtenSize = info.Size()
	}
	fl.f = f
	return nil
}

// Infof writes a timestamped INFO line, rotating to a gzip-compressed
// sibling file once the active file crosses maxSize.
func (fl *fileLogger) Infof(format string, args ...interface{}) {
	if fl == nil {
		return
	}
	line := fmt.Sprintf("%s INFO %s\n", time.Now().Format(time.RFC3339), fmt.Sprintf(format, args...))

	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.maxSize > 0 && fl.writtenSize >= fl.maxSize {
		if err := fl.rotateLocked(); err != nil {
			log.Printf("log rotation failed: %v", err)
		}
	}

	n, err := fl.f.WriteString(line)
	if err != nil {
		log.Printf("writing to log file: %v", err)
		return
	}
	fl.writtenSize += int64(n)
}

// rotateLocked gzip-compresses the current log file to a timestamped
// name and reopens a fresh one. Caller must hold fl.mu.
func (fl *fileLogger) rotateLocked() error {
	if fl.f != nil {
		fl.f.Close()
	}

	rotatedName := fmt.Sprintf("%s.%s.gz", fl.path, time.Now().Format("20060102T150405"))
	data, err := os.ReadFile(fl.path)
	if err != nil {
		return fmt.Errorf("reading log file for rotation: %w", err)
	}

	gzFile, err := os.Create(rotatedName)
	if err != nil {
		return fmt.Errorf("creating rotated log file: %w", err)
	}
	gw := gzip.NewWriter(gzFile)
	if _, err := gw.Write(data); err != nil {
		gw.Close()
		gzFile.Close()
		return fmt.Errorf("compressing rotated log file: %w", err)
	}
	gw.Close()
	gzFile.Close()

	if err := os.Truncate(fl.path, 0); err != nil {
		return fmt.Errorf("truncating log file: %w", err)
	}
	fl.writtenSize = 0
	return fl.open()
}

// globalFileLog is the process-wide INFO sink, set up once in main().
var globalFileLog *fileLogger

func logDebugf(format string, args ...interface{}) {
	if DebugMode {
		log.Printf("DEBUG "+format, args...)
	}
}

func logInfof(format string, args ...interface{}) {
	log.Printf("INFO "+format, args...)
	if globalFileLog != nil {
		globalFileLog.Infof(format, args...)
	}
}

func logWarnf(format string, args ...interface{}) {
	log.Printf("WARN "+format, args...)
	if globalFileLog != nil {
		globalFileLog.Infof("WARN "+format, args...)
	}
}

func logErrorf(format string, args ...interface{}) {
	log.Printf("ERROR "+format, args...)
	if globalFileLog != nil {
		globalFileLog.Infof("ERROR "+format, args...)
	}
}
