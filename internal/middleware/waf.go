package middleware

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dsh272k4/baomatweb/internal/notify"
	"github.com/dsh272k4/baomatweb/internal/waf"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// maxBodyBytes caps request bodies. Larger bodies are refused rather than
// passed on partly inspected.
const maxBodyBytes = 1 << 20

// BlockRecorder appends one line per blocked request.
type BlockRecorder interface {
	Blocked(source, pattern string)
}

// WAF rejects requests whose body or query matches the filter's blacklist.
// Inspection failures let the request through; oversized bodies do not.
func WAF(filter *waf.Filter, recorder BlockRecorder, notifier notify.Notifier, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		verdict, err := inspect(c, filter)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logger.Warn("Request body too large",
				zap.String("source", c.ClientIP()),
				zap.String("path", c.Request.URL.Path),
				zap.Int64("limit", tooLarge.Limit),
			)
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large"})
			return
		}
		if err != nil {
			logger.Warn("Request inspection failed, letting request through",
				zap.String("path", c.Request.URL.Path),
				zap.String("request_id", RequestIDFromContext(c)),
				zap.Error(err),
			)
			c.Next()
			return
		}
		if !verdict.Blocked {
			c.Next()
			return
		}

		source := c.ClientIP()
		recorder.Blocked(source, verdict.Pattern)
		notifier.Notify(c.Request.Context(), notify.Alert{
			Kind:    notify.KindRequestBlocked,
			Subject: source,
			Detail:  verdict.Pattern,
			Time:    time.Now(),
		})
		logger.Warn("Request blocked",
			zap.String("source", source),
			zap.String("pattern", verdict.Pattern),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
		)

		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Request blocked by security filter"})
	}
}

// inspect reads the body for the filter and puts it back for the handlers.
func inspect(c *gin.Context, filter *waf.Filter) (verdict waf.Verdict, err error) {
	defer func() {
		if r := recover(); r != nil {
			verdict, err = waf.Verdict{}, fmt.Errorf("panic while reading request: %v", r)
		}
	}()

	var body []byte
	if c.Request.Body != nil && c.Request.Body != http.NoBody {
		orig := c.Request.Body
		body, err = io.ReadAll(http.MaxBytesReader(c.Writer, orig, maxBodyBytes))
		c.Request.Body = readCloser{Reader: bytes.NewReader(body), Closer: orig}
		if err != nil {
			return waf.Verdict{}, fmt.Errorf("failed to read body: %w", err)
		}
	}

	return filter.Inspect(body, c.Request.URL.Query())
}

type readCloser struct {
	io.Reader
	io.Closer
}
