package logger

import (
	"io"
	"log"
)

type Logger struct {
	infoLogger  *log.Logger
	errorLogger *log.Logger
	debugLogger *log.Logger
	debug       bool
}

// New returns a logger writing every level to w. Debug output is discarded
// unless debug is set.
func New(w io.Writer, prefix string, debug bool) *Logger {
	return &Logger{
		infoLogger:  log.New(w, prefix+"INFO: ", log.LstdFlags),
		errorLogger: log.New(w, prefix+"ERROR: ", log.LstdFlags),
		debugLogger: log.New(w, prefix+"DEBUG: ", log.LstdFlags),
		debug:       debug,
	}
}

func (l *Logger) Info(format string, v ...any) {
	l.infoLogger.Printf(format, v...)
}

func (l *Logger) Error(format string, v ...any) {
	l.errorLogger.Printf(format, v...)
}

func (l *Logger) Debug(format string, v ...any) {
	if !l.debug {
		return
	}
	l.debugLogger.Printf(format, v...)
}

func (l *Logger) SetOutput(w io.Writer) {
	l.infoLogger.SetOutput(w)
	l.errorLogger.SetOutput(w)
	l.debugLogger.SetOutput(w)
}

func (l *Logger) SetDebug(debug bool) {
	l.debug = debug
}
