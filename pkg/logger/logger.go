package logger

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu  sync.RWMutex
	log = zap.NewNop().Sugar()
)

// Init builds the process logger. Development gets a colored console
// encoder at debug level, everything else JSON at info level.
func Init(env string) {
	var level zapcore.Level
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	switch strings.ToLower(env) {
	case "development", "dev", "local":
		level = zap.DebugLevel
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		level = zap.InfoLevel
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level)
	l := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))

	mu.Lock()
	log = l.Sugar()
	mu.Unlock()
}

func get() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// args are key/value pairs; a lone trailing value is logged under "detail".
func fields(args []any) []any {
	if len(args)%2 == 1 {
		return append(args[:len(args)-1:len(args)-1], "detail", args[len(args)-1])
	}
	return args
}

func Debug(msg string, args ...any) {
	get().Debugw(msg, fields(args)...)
}

func Info(msg string, args ...any) {
	get().Infow(msg, fields(args)...)
}

func Warn(msg string, args ...any) {
	get().Warnw(msg, fields(args)...)
}

func Error(msg string, args ...any) {
	get().Errorw(msg, fields(args)...)
}

func Fatal(msg string, args ...any) {
	get().Fatalw(msg, fields(args)...)
}

func Sync() {
	_ = get().Sync()
}
