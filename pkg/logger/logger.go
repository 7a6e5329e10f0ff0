// Package logger builds the zap loggers used by the API and the CLI.
package logger

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/noah-isme/ireporter/pkg/config"
	"github.com/noah-isme/ireporter/pkg/middleware/requestid"
)

func level(raw string, fallback zapcore.Level) zap.AtomicLevel {
	lvl := fallback
	if raw != "" {
		if err := lvl.UnmarshalText([]byte(strings.ToLower(raw))); err != nil {
			lvl = fallback
		}
	}
	return zap.NewAtomicLevelAt(lvl)
}

// New builds the API logger: JSON in production, console otherwise unless
// LOG_FORMAT says so.
func New(cfg *config.Config) (*zap.Logger, error) {
	zc := zap.NewDevelopmentConfig()
	encoding := "console"
	if cfg.Env == config.EnvProduction {
		zc = zap.NewProductionConfig()
		encoding = "json"
	}
	if f := cfg.Log.Format; f == "json" || f == "console" {
		encoding = f
	}
	zc.Encoding = encoding
	zc.Level = level(cfg.Log.Level, zapcore.InfoLevel)
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zc.Build(zap.Fields(zap.String("service", "ireporter-api")))
}

// NewCLI builds a quiet console logger on stderr so command output on
// stdout stays machine readable.
func NewCLI(lvl string) (*zap.Logger, error) {
	zc := zap.NewDevelopmentConfig()
	zc.Encoding = "console"
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	zc.DisableStacktrace = true
	zc.DisableCaller = true
	zc.Level = level(lvl, zapcore.WarnLevel)
	zc.EncoderConfig.TimeKey = ""
	return zc.Build()
}

// probePaths are logged at debug so health checks do not flood the log.
var probePaths = map[string]bool{"/health": true, "/ready": true, "/metrics": true}

// GinMiddleware logs one line per request, at a level chosen by status.
func GinMiddleware(l *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		fields := make([]zap.Field, 0, 8)
		fields = append(fields,
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
		if id := requestid.Value(c); id != "" {
			fields = append(fields, zap.String("request_id", id))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch {
		case status >= 500:
			l.Error("request", fields...)
		case status >= 400:
			l.Warn("request", fields...)
		case probePaths[c.Request.URL.Path]:
			l.Debug("request", fields...)
		default:
			l.Info("request", fields...)
		}
	}
}
