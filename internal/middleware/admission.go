package middleware

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/admission"
	"github.com/aman-churiwal/admission-gateway/internal/idempotency"
	"github.com/aman-churiwal/admission-gateway/internal/policy"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Admission runs every request through the gate: rate limit headers on every
// admitted or denied response, 429 on denial, and replay or 409 for repeated
// idempotency keys.
func Admission(gate *admission.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := admission.Request{
			Request: policy.Request{
				Method:       c.Request.Method,
				Path:         c.Request.URL.Path,
				RoutePattern: c.FullPath(),
				Header:       c.Request.Header,
				RemoteAddr:   c.Request.RemoteAddr,
				Identity:     IdentityFrom(c),
			},
			IdempotencyKey: strings.TrimSpace(c.GetHeader(admission.HeaderIdempotencyKey)),
		}
		ctx := c.Request.Context()

		d := gate.Admit(ctx, req)
		c.Set(KeyDecision, d)
		if d.RateLimit != nil {
			admission.SetRateLimitHeaders(c.Writer.Header(), *d.RateLimit)
		}

		if d.Verdict == admission.VerdictDenied {
			now := time.Now()
			admission.SetRetryAfter(c.Writer.Header(), *d.RateLimit, now)
			log.WithFields(log.Fields{
				"request_id":   c.GetString(KeyRequestID),
				"tracking_key": d.Resolution.TrackingKey,
				"group":        d.Resolution.Group,
				"limit":        d.RateLimit.Limit,
				"window":       d.Resolution.Tier.WindowSeconds,
				"reset_at_ms":  d.RateLimit.ResetAt.UnixMilli(),
			}).Debug("rate limit exceeded")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, admission.NewRateLimitBody(d, now))
			return
		}

		protect := gate.Protects(req, d)
		final, _ := gate.Proceed(ctx, req, d, func(context.Context) (*idempotency.Response, error) {
			if !protect {
				c.Next()
				return nil, nil
			}
			return captureNext(c)
		})
		c.Set(KeyDecision, final)

		switch final.Verdict {
		case admission.VerdictReplayed:
			writeReplay(c, final.Replay)
		case admission.VerdictConflict:
			c.AbortWithStatusJSON(http.StatusConflict, admission.NewConflictBody(c.GetString(KeyRequestID)))
		}
	}
}

// captureNext runs the rest of the chain while copying what it writes
func captureNext(c *gin.Context) (*idempotency.Response, error) {
	w := &captureWriter{ResponseWriter: c.Writer}
	c.Writer = w
	c.Next()
	c.Writer = w.ResponseWriter

	resp := &idempotency.Response{
		StatusCode: w.Status(),
		Header:     replayableHeaders(w.Header()),
		Body:       w.body.Bytes(),
	}

	if last := c.Errors.Last(); last != nil {
		return resp, last
	}
	return resp, nil
}

func replayableHeaders(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for name, values := range h {
		if admission.IsRateLimitHeader(name) || strings.EqualFold(name, HeaderRequestID) {
			continue
		}
		out[name] = append([]string(nil), values...)
	}
	return out
}

// writeReplay sends a cached response; this request's own rate limit headers stay
func writeReplay(c *gin.Context, resp *idempotency.Response) {
	h := c.Writer.Header()
	for name, values := range replayableHeaders(resp.Header) {
		h[name] = values
	}
	h.Set(admission.HeaderReplayed, "true")

	c.Status(resp.StatusCode)
	if len(resp.Body) > 0 {
		_, _ = c.Writer.Write(resp.Body)
	} else {
		c.Writer.WriteHeaderNow()
	}
	c.Abort()
}

type captureWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *captureWriter) Write(data []byte) (int, error) {
	w.body.Write(data)
	return w.ResponseWriter.Write(data)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}
