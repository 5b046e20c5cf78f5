// Package routing decides which surface (marketing site or dashboard) a
// request belongs to and builds cross-surface URLs.
package routing

import (
	"net"
	"net/url"
	"strings"
)

const (
	DashboardPath = "/dashboard"
	SignInPath    = "/signin"
	SignUpPath    = "/signup"
	CallbackPath  = "/auth/callback"
)

type Surface string

const (
	SurfaceMarketing Surface = "marketing"
	SurfaceDashboard Surface = "dashboard"
)

type Config struct {
	Env                string // dev | production
	AppDomain          string // e.g. padu.app
	DashboardSubdomain string // e.g. dashboard
}

func (c Config) sub() string {
	if c.DashboardSubdomain == "" {
		return "dashboard"
	}
	return c.DashboardSubdomain
}

// Local reports whether host is served without real subdomains.
func (c Config) Local(host string) bool {
	if c.Env == "dev" || c.Env == "development" {
		return true
	}
	h := hostname(host)
	return h == "localhost" || h == "127.0.0.1" || h == "::1" || strings.HasSuffix(h, ".localhost")
}

// Detect resolves the surface for a request. On real domains only the host
// counts. Locally the dashboard is reached via a dashboard.localhost host,
// a ?subdomain= query or the /dashboard path prefix.
func (c Config) Detect(host string, u *url.URL) Surface {
	h := hostname(host)
	sub := c.sub()
	if !c.Local(host) {
		if c.AppDomain != "" && h == sub+"."+strings.ToLower(c.AppDomain) {
			return SurfaceDashboard
		}
		return SurfaceMarketing
	}
	if strings.HasPrefix(h, sub+".") {
		return SurfaceDashboard
	}
	if u != nil {
		if u.Query().Get("subdomain") == sub {
			return SurfaceDashboard
		}
		if IsProtected(u.Path) {
			return SurfaceDashboard
		}
	}
	return SurfaceMarketing
}

// DashboardURL returns where path lives on the dashboard surface. Locally
// that is a same-origin path under /dashboard.
func (c Config) DashboardURL(path string) string {
	path = ensureSlash(path)
	if c.Env == "dev" || c.Env == "development" || c.AppDomain == "" {
		if IsProtected(path) {
			return path
		}
		return strings.TrimSuffix(DashboardPath+path, "/")
	}
	return "https://" + c.sub() + "." + c.AppDomain + strings.TrimPrefix(path, DashboardPath)
}

func (c Config) MarketingURL(path string) string {
	path = ensureSlash(path)
	if c.Env == "dev" || c.Env == "development" || c.AppDomain == "" {
		return path
	}
	return "https://" + c.AppDomain + path
}

// SignInURL points at the sign-in page, carrying next for the return trip.
func (c Config) SignInURL(next string) string {
	p := SignInPath
	if next = SafeNext(next); next != "/" {
		p += "?next=" + url.QueryEscape(next)
	}
	return c.MarketingURL(p)
}

// SafeNext only lets same-origin absolute paths through; anything else becomes "/".
func SafeNext(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/"
	}
	return next
}

// IsProtected reports whether path needs a signed-in user.
func IsProtected(path string) bool {
	return path == DashboardPath || strings.HasPrefix(path, DashboardPath+"/")
}

// IsAuthPage reports whether path is a sign-in or sign-up page.
func IsAuthPage(path string) bool {
	return path == SignInPath || path == SignUpPath
}

func hostname(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(strings.Trim(host, "[]"))
}

func ensureSlash(p string) string {
	if !strings.HasPrefix(p, "/") {
		return "/" + p
	}
	return p
}
