package logging

import (
	"fmt"
	"io"
	"os"
)

// EarlyLog writes plain lines before the structured logger exists, typically
// while configuration is still being loaded.
type EarlyLog struct {
	component string
	out       io.Writer
	errOut    io.Writer
	exit      func(int)
}

func NewEarlyLog(component string) *EarlyLog {
	return &EarlyLog{
		component: component,
		out:       os.Stdout,
		errOut:    os.Stderr,
		exit:      os.Exit,
	}
}

func (l *EarlyLog) write(w io.Writer, level, msg string, args ...interface{}) {
	prefix := level + ": "
	if l.component != "" {
		prefix = level + " [" + l.component + "]: "
	}
	fmt.Fprintf(w, prefix+msg+"\n", args...)
}

func (l *EarlyLog) Error(msg string, args ...interface{}) {
	l.write(l.errOut, "ERROR", msg, args...)
	l.exit(1)
}

func (l *EarlyLog) Fatal(msg string, args ...interface{}) {
	l.write(l.errOut, "FATAL", msg, args...)
	l.exit(1)
}

func (l *EarlyLog) Warn(msg string, args ...interface{}) {
	l.write(l.errOut, "WARN", msg, args...)
}

func (l *EarlyLog) Info(msg string, args ...interface{}) {
	l.write(l.out, "INFO", msg, args...)
}
