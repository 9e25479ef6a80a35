package router

import (
	"context"
	"net/http"
	"regexp"
	"strings"
)

// PatternRouter provides pattern-based routing with placeholder support
// Supports patterns like "/api/param/{name}"
type PatternRouter struct {
	routes []routeEntry
}

type routeEntry struct {
	pattern *regexp.Regexp
	handler http.HandlerFunc
	keys    []string
}

// NewPatternRouter creates a new pattern router
func NewPatternRouter() *PatternRouter {
	return &PatternRouter{
		routes: make([]routeEntry, 0),
	}
}

// HandleFunc registers a handler for a URL pattern with placeholders
// Pattern examples:
//   - "/api/param/{name}" - matches /api/param/brightness
//   - "/api/frame/{file:[a-z]+\\.jpg}" - matches /api/frame/snapshot.jpg
func (pr *PatternRouter) HandleFunc(pattern string, handler http.HandlerFunc) {
	regexPattern, keys := compilePattern(pattern)
	pr.routes = append(pr.routes, routeEntry{
		pattern: regexPattern,
		handler: handler,
		keys:    keys,
	})
}

// ServeHTTP implements http.Handler interface
func (pr *PatternRouter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	for _, route := range pr.routes {
		if matches := route.pattern.FindStringSubmatch(r.URL.Path); matches != nil {
			if len(route.keys) > 0 {
				ctx := r.Context()
				for i, key := range route.keys {
					if i+1 < len(matches) {
						ctx = withPathParam(ctx, key, matches[i+1])
					}
				}
				r = r.WithContext(ctx)
			}
			route.handler(w, r)
			return
		}
	}
	http.NotFound(w, r)
}

// compilePattern converts a pattern with placeholders to a regular expression
// Returns the compiled regex and a list of placeholder keys
func compilePattern(pattern string) (*regexp.Regexp, []string) {
	keys := make([]string, 0)

	// Escape special regex characters except {}
	regexPattern := regexp.QuoteMeta(pattern)

	// Find all placeholders like {key} or {key:regex}
	placeholderRegex := regexp.MustCompile(`\\\{([^}:]+)(?::([^}]+))?\\\}`)
	regexPattern = placeholderRegex.ReplaceAllStringFunc(regexPattern, func(match string) string {
		content := strings.TrimPrefix(strings.TrimSuffix(match, `\}`), `\{`)
		parts := strings.SplitN(content, ":", 2)

		keys = append(keys, parts[0])

		// Use custom regex if provided, otherwise match any non-slash characters
		if len(parts) == 2 {
			return "(" + unquoteMeta(parts[1]) + ")"
		}
		return `([^/]+)`
	})

	return regexp.MustCompile("^" + regexPattern + "$"), keys
}

// unquoteMeta reverses regexp.QuoteMeta for a custom placeholder regex.
func unquoteMeta(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

type pathParamKey string

// PathParam retrieves a path parameter from the request context.
// Returns an empty string if the parameter doesn't exist.
func PathParam(r *http.Request, key string) string {
	if val, ok := r.Context().Value(pathParamKey(key)).(string); ok {
		return val
	}
	return ""
}

func withPathParam(ctx context.Context, key, value string) context.Context {
	return context.WithValue(ctx, pathParamKey(key), value)
}
