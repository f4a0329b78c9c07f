package logging

import (
	"io"
	"os"
	"strings"

	"github.com/natefinch/lumberjack"
	"go.elastic.co/ecszap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Special values of the log_level setting. Any other value is a zap level name.
const (
	LogLevelELK  = "elk"
	LogLevelProd = "prod"
)

type WriteSyncer struct {
	io.Writer
}

func (ws WriteSyncer) Sync() error {
	return nil
}

// GetWriteSyncer returns a size-rotated file writer.
func GetWriteSyncer(logName string) zapcore.WriteSyncer {
	var ioWriter = &lumberjack.Logger{
		Filename:   logName,
		MaxSize:    20, // MB
		MaxBackups: 5,
		MaxAge:     28, // days
		LocalTime:  true,
	}
	return WriteSyncer{ioWriter}
}

// SetupLogger builds the process logger. Errors go to stderr, everything else to
// stdout, and both are mirrored as JSON into fileName when it is set.
// level "elk" switches to ECS JSON on stdout, "prod" to the production encoder
// at info level.
func SetupLogger(fileName, level string) *zap.Logger {
	if strings.EqualFold(level, LogLevelELK) {
		return SetupLoggerELK()
	}

	var config zap.Config
	minLevel := zapcore.DebugLevel
	if strings.EqualFold(level, LogLevelProd) {
		config = zap.NewProductionConfig()
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		minLevel = zapcore.InfoLevel
	} else {
		config = zap.NewDevelopmentConfig()
		if parsed, err := zapcore.ParseLevel(level); err == nil {
			minLevel = parsed
		}
	}
	consoleConfig := config.EncoderConfig
	consoleConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	highPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= zapcore.ErrorLevel && lvl >= minLevel
	})
	lowPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl < zapcore.ErrorLevel && lvl >= minLevel
	})

	consoleEncoder := zapcore.NewConsoleEncoder(consoleConfig)
	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stderr), highPriority),
		zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stdout), lowPriority),
	}
	if fileName != "" {
		fileConfig := zap.NewProductionEncoderConfig()
		fileConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		fileEncoder := zapcore.NewJSONEncoder(fileConfig)
		logFile := zapcore.AddSync(GetWriteSyncer(fileName))
		cores = append(cores, zapcore.NewCore(fileEncoder, logFile, zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
			return lvl >= minLevel
		})))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller())
}

// SetupLoggerELK logs ECS-formatted JSON to stdout for Elastic ingestion.
func SetupLoggerELK() *zap.Logger {
	encoderConfig := ecszap.EncoderConfig{
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   ecszap.FullCallerEncoder,
	}
	core := ecszap.NewCore(encoderConfig, os.Stdout, zap.DebugLevel)
	return zap.New(core, zap.AddCaller())
}
