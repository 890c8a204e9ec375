package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu        sync.RWMutex
	customLog *zap.SugaredLogger
	level     = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	dir       string
	file      *os.File
)

func init() {
	InitLogger()
}

// InitLogger writes human readable logs to stdout and errors to stderr.
func InitLogger() {
	encoderCfg := zap.NewDevelopmentEncoderConfig()
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderCfg.TimeKey = ""
	encoder := zapcore.NewConsoleEncoder(encoderCfg)

	errLevel := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l >= zapcore.ErrorLevel && level.Enabled(l)
	})
	outLevel := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l < zapcore.ErrorLevel && level.Enabled(l)
	})

	core := zapcore.NewTee(
		zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), outLevel),
		zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), errLevel),
	)

	set(zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar(), "", nil)
}

// ResetLogger redirects all output to a JSON log file under <home>/logs.
func ResetLogger(home string) {
	if home == "" {
		osHome, err := os.UserHomeDir()
		if err != nil {
			Fatalf("Failed to get user home directory: %v", err)
		}
		home = filepath.Join(osHome, ".oaod")
	}

	logDir := filepath.Join(home, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		Fatalf("Failed to create log directory %s: %v", logDir, err)
	}

	name := fmt.Sprintf("%s.%d.log", filepath.Base(os.Args[0]), os.Getpid())
	path := filepath.Join(logDir, name)
	f, err := os.Create(path)
	if err != nil {
		Fatalf("Failed to create log file: %v", err)
	}

	Infof("From now on, all logs will be written to %s", path)

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(f), level)

	set(zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar(), logDir, f)
}

// SetLevel accepts zap level names ("debug", "info", "warn", "error").
func SetLevel(name string) error {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", name, err)
	}
	level.SetLevel(l)
	return nil
}

// Dir returns the log directory, empty while logging to the console.
func Dir() string {
	mu.RLock()
	defer mu.RUnlock()
	return dir
}

// Logger exposes the underlying structured logger.
func Logger() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return customLog
}

// set swaps the logger and its output file. The previous logger is flushed
// and its file, if any, closed.
func set(l *zap.SugaredLogger, logDir string, f *os.File) {
	mu.Lock()
	old, oldFile := customLog, file
	customLog, dir, file = l, logDir, f
	mu.Unlock()

	if old != nil {
		_ = old.Sync()
	}
	if oldFile != nil {
		_ = oldFile.Close()
	}
}

func Sync() {
	_ = Logger().Sync()
}

func Debug(v ...any) {
	Logger().Debug(v...)
}

func Debugf(format string, v ...any) {
	Logger().Debugf(format, v...)
}

func Info(v ...any) {
	Logger().Info(v...)
}

func Infof(format string, v ...any) {
	Logger().Infof(format, v...)
}

func Warnf(format string, v ...any) {
	Logger().Warnf(format, v...)
}

func Error(v ...any) {
	Logger().Error(v...)
}

func Errorf(format string, v ...any) {
	Logger().Errorf(format, v...)
}

func Fatal(v ...any) {
	Logger().Fatal(v...)
}

func Fatalf(format string, v ...any) {
	Logger().Fatalf(format, v...)
}
