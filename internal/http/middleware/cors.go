package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

const defaultCORSMaxAge = 10 * time.Minute

var (
	defaultCORSAllowedMethods = []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}
	defaultCORSAllowedHeaders = []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Request-Id"}
	// Read by dashboards polling async jobs.
	defaultCORSExposedHeaders = []string{"Location", "Retry-After", "X-Request-Id"}
)

// CORSConfig lists what cross-origin dashboards may do. Empty lists fall back
// to the defaults above; an origin of "*" allows any origin.
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	ExposedHeaders []string
	MaxAge         time.Duration
}

type corsRules struct {
	anyOrigin     bool
	origins       map[string]struct{}
	allowMethods  string
	allowHeaders  string
	exposeHeaders string
	maxAge        string
}

func newCORSRules(cfg CORSConfig) corsRules {
	rules := corsRules{origins: make(map[string]struct{})}
	for _, origin := range cleanList(cfg.AllowedOrigins, nil) {
		if origin == "*" {
			rules.anyOrigin = true
			continue
		}
		rules.origins[strings.ToLower(origin)] = struct{}{}
	}

	methods := cleanList(cfg.AllowedMethods, defaultCORSAllowedMethods)
	for i, method := range methods {
		methods[i] = strings.ToUpper(method)
	}
	rules.allowMethods = strings.Join(methods, ", ")
	rules.allowHeaders = strings.Join(cleanList(cfg.AllowedHeaders, defaultCORSAllowedHeaders), ", ")
	rules.exposeHeaders = strings.Join(cleanList(cfg.ExposedHeaders, defaultCORSExposedHeaders), ", ")

	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = defaultCORSMaxAge
	}
	rules.maxAge = strconv.Itoa(int(maxAge / time.Second))
	return rules
}

func (c corsRules) allows(origin string) bool {
	if c.anyOrigin {
		return true
	}
	_, ok := c.origins[strings.ToLower(origin)]
	return ok
}

// CORS answers preflight requests for allowed origins and decorates their
// other requests. Requests from unknown origins pass through untouched.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	rules := newCORSRules(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin == "" || !rules.allows(origin) {
				next.ServeHTTP(w, r)
				return
			}

			header := w.Header()
			header.Add("Vary", "Origin")
			if rules.anyOrigin {
				header.Set("Access-Control-Allow-Origin", "*")
			} else {
				header.Set("Access-Control-Allow-Origin", origin)
			}

			// A bare OPTIONS without a requested method is not a preflight.
			if r.Method != http.MethodOptions || r.Header.Get("Access-Control-Request-Method") == "" {
				header.Set("Access-Control-Expose-Headers", rules.exposeHeaders)
				next.ServeHTTP(w, r)
				return
			}

			header.Add("Vary", "Access-Control-Request-Method")
			header.Add("Vary", "Access-Control-Request-Headers")
			header.Set("Access-Control-Allow-Methods", rules.allowMethods)
			header.Set("Access-Control-Allow-Headers", rules.allowHeaders)
			header.Set("Access-Control-Max-Age", rules.maxAge)
			w.WriteHeader(http.StatusNoContent)
		})
	}
}

// cleanList trims values and drops empties, returning a copy of fallback when
// nothing is left.
func cleanList(values, fallback []string) []string {
	result := make([]string, 0, len(values))
	for _, raw := range values {
		if value := strings.TrimSpace(raw); value != "" {
			result = append(result, value)
		}
	}
	if len(result) == 0 {
		return append([]string(nil), fallback...)
	}
	return result
}
