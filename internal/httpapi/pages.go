package httpapi

import (
	"fmt"
	"html"
	"net/http"
	"net/http/httputil"
	"net/url"

	"go.uber.org/zap"

	"intakeportal.org/internal/auth"
	"intakeportal.org/internal/obs"
)

// UIProxy forwards allowed page requests to the UI server at upstream.
func UIProxy(upstream string) (http.Handler, error) {
	target, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("parse ui upstream: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("ui upstream %q must be an absolute URL", upstream)
	}
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		obs.From(r.Context()).Error("ui upstream failed", zap.String("path", r.URL.Path), zap.Error(err))
		w.WriteHeader(http.StatusBadGateway)
	}
	return proxy, nil
}

// placeholderPages answers page routes when no UI upstream is configured.
func placeholderPages() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		who := "guest"
		if id := auth.IdentityFromContext(r.Context()); !id.IsAnonymous() {
			who = id.UserID
			if p, ok := auth.ProfileFromContext(r.Context()); ok {
				who += " (" + string(p.Role) + ")"
			}
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = fmt.Fprintf(w, `<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>Intake Portal</title></head>
<body>
<main>
<h1>Intake Portal</h1>
<p>Page <code>%s</code></p>
<p>Signed in as %s</p>
</main>
</body>
</html>
`, html.EscapeString(r.URL.Path), html.EscapeString(who))
	})
}
