package logging

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// RequestLogger writes one entry per request. Paths in skipPaths are not
// logged. Only the path is recorded, never the query string. Bearer
// rejections and rate limiting are routine for a token authority and log at
// Info; other client errors log at Warn.
func RequestLogger(logger *Service, skipPaths ...string) echo.MiddlewareFunc {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, path := range skipPaths {
		skip[path] = struct{}{}
	}

	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURIPath:   true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogUserAgent: true,
		LogRequestID: true,
		LogError:     true,
		Skipper: func(c echo.Context) bool {
			_, ok := skip[c.Request().URL.Path]
			return ok
		},
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("path", v.URIPath),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("remote_ip", v.RemoteIP),
			}
			if v.RequestID != "" {
				fields = append(fields, zap.String("request_id", v.RequestID))
			}

			switch {
			case v.Status >= http.StatusInternalServerError:
				logger.Error("request failed", append(fields, zap.Error(v.Error))...)
			case v.Status == http.StatusUnauthorized, v.Status == http.StatusTooManyRequests:
				logger.Info("request rejected", append(fields, zap.String("user_agent", v.UserAgent))...)
			case v.Status >= http.StatusBadRequest:
				logger.Warn("client error", fields...)
			default:
				logger.Info("request", fields...)
			}
			return nil
		},
	})
}
