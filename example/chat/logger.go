package main

import (
	"fmt"
	"log"
	"os"
)

// fileLogger writes every level to a file. The terminal belongs to the TUI.
type fileLogger struct {
	file *os.File
	log  *log.Logger
}

func newFileLogger(path string) (*fileLogger, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return &fileLogger{
		file: file,
		log:  log.New(file, "", log.LstdFlags|log.Lmicroseconds),
	}, nil
}

func (l *fileLogger) Debug(msg string, args ...interface{}) { l.write("DEBUG", msg, args) }
func (l *fileLogger) Info(msg string, args ...interface{})  { l.write("INFO", msg, args) }
func (l *fileLogger) Warn(msg string, args ...interface{})  { l.write("WARN", msg, args) }
func (l *fileLogger) Error(msg string, args ...interface{}) { l.write("ERROR", msg, args) }

func (l *fileLogger) write(level, msg string, args []interface{}) {
	l.log.Printf("[%s] %s", level, fmt.Sprintf(msg, args...))
}

func (l *fileLogger) Close() error {
	return l.file.Close()
}
