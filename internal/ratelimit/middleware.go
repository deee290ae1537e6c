package ratelimit

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/af-corp/relay-gateway/internal/auth"
	"github.com/af-corp/relay-gateway/internal/config"
	"github.com/af-corp/relay-gateway/internal/httputil"
	"github.com/af-corp/relay-gateway/internal/telemetry"
)

const (
	headerRateLimitRequests          = "X-RateLimit-Limit-Requests"
	headerRateLimitRemainingRequests = "X-RateLimit-Remaining-Requests"
	headerRateLimitReset             = "X-RateLimit-Reset-Requests"
	headerRetryAfter                 = "Retry-After"
)

// callerKey identifies who a request counts against: the gateway key when
// the request was authenticated, otherwise a hash of the upstream token.
func callerKey(r *http.Request, tokenHeader string) (string, *auth.AuthInfo) {
	if info, ok := auth.AuthFromContext(r.Context()); ok {
		return "key:" + info.KeyID, info
	}
	token, err := auth.ExtractUpstreamToken(r.Header, tokenHeader)
	if err != nil {
		return "", nil
	}
	return "token:" + auth.HashKey(token)[:32], nil
}

// Middleware enforces a per-caller requests-per-minute limit.
func Middleware(limiter *Limiter, cfg func() *config.Config, metrics *telemetry.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := w.Header().Get("X-Request-ID")
			c := cfg()

			key, info := callerKey(r, c.Upstream.TokenHeader)
			if key == "" {
				// No identity: the handler rejects the request itself.
				next.ServeHTTP(w, r)
				return
			}

			rpm := c.RateLimit.DefaultRPM
			if info != nil && info.RPMLimit != nil {
				rpm = *info.RPMLimit
			}
			window := c.RateLimit.Window
			if window <= 0 {
				window = time.Minute
			}

			result, _ := limiter.Check(r.Context(), "rpm:"+key, int64(rpm), window)

			w.Header().Set(headerRateLimitRequests, strconv.Itoa(rpm))
			w.Header().Set(headerRateLimitRemainingRequests, strconv.FormatInt(result.Remaining, 10))
			w.Header().Set(headerRateLimitReset, result.ResetAt.UTC().Format(time.RFC3339))

			if !result.Allowed {
				slog.Warn("rate limit exceeded",
					"request_id", reqID,
					"caller", key,
					"dimension", "rpm",
					"limit", rpm,
				)
				metrics.RecordRateLimitHit("rpm")
				retry := int(math.Ceil(result.RetryAfter.Seconds()))
				w.Header().Set(headerRetryAfter, strconv.Itoa(retry))
				httputil.WriteRateLimitError(w, reqID,
					fmt.Sprintf("Rate limit exceeded: %d requests per %s. Retry after %d seconds", rpm, window, retry))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
