package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/mattn/go-isatty"
	log "github.com/sirupsen/logrus"
)

// BorderFormatter frames error entries so they stand out in a busy console.
type BorderFormatter struct {
	Base *log.TextFormatter
}

func (f *BorderFormatter) Format(entry *log.Entry) ([]byte, error) {
	message, err := f.Base.Format(entry)
	if err != nil {
		return nil, err
	}

	if entry.Level == log.ErrorLevel {
		border := "+----------------------------------------+"
		return []byte(fmt.Sprintf("%s\n%s%s\n", border, message, border)), nil
	}

	return message, nil
}

// InitLogger configures the standard logrus logger. An empty level means info.
func InitLogger(level string) {
	InitLoggerTo(os.Stderr, level)
}

func InitLoggerTo(out io.Writer, level string) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" {
		level = "info"
	}

	lvl, err := log.ParseLevel(level)
	if err != nil {
		log.SetLevel(log.InfoLevel)
		log.Errorf("Invalid LOG_LEVEL '%s', defaulting to INFO", level)
	} else {
		log.SetLevel(lvl)
	}

	isK8s := isK8sEnvironment()
	base := &log.TextFormatter{
		DisableQuote:    true,
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
		ForceColors:     !isK8s && isTerminal(out),
	}

	// Kubernetes collects stdout
	if isK8s {
		out = os.Stdout
		base.TimestampFormat = "2006-01-02T15:04:05.000Z07:00"
	}

	log.SetOutput(out)
	log.SetFormatter(&BorderFormatter{Base: base})
}

func LogError(err error, functionName string, additionalFields ...map[string]interface{}) {
	logError(err, functionName, additionalFields...)
}

func logError(err error, functionName string, additionalFields ...map[string]interface{}) {
	if err == nil {
		return
	}

	fields := log.Fields{
		"error":    err.Error(),
		"function": functionName,
	}

	// skip logError and its exported wrapper
	if pc, file, line, ok := runtime.Caller(2); ok {
		fields["file"] = fmt.Sprintf("%s: %d", filepath.Base(file), line)
		fields["func"] = runtime.FuncForPC(pc).Name()
	}

	if len(additionalFields) > 0 {
		for k, v := range additionalFields[0] {
			fields[k] = v
		}
	}

	log.WithFields(fields).Error()
}

// LogAndCapture logs the error and, when hub is non-nil, sends it to Sentry.
func LogAndCapture(hub *sentry.Hub, err error, context string, additionalFields ...map[string]interface{}) {
	if err == nil {
		return
	}
	logError(err, context, additionalFields...)

	if hub != nil {
		hub.WithScope(func(scope *sentry.Scope) {
			scope.SetExtra("context", context)
			if len(additionalFields) > 0 {
				for k, v := range additionalFields[0] {
					scope.SetExtra(k, v)
				}
			}
			hub.CaptureException(err)
		})
	}
}

func isK8sEnvironment() bool {
	return os.Getenv("KUBERNETES_SERVICE_HOST") != ""
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
