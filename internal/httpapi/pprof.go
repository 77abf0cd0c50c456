package httpapi

import (
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"runtime"
	"strings"

	"github.com/labstack/echo/v4"
)

// PprofConfig mounts net/http/pprof on the API server.
//
// A non-loopback Addr requires Token unless AllowInsecure is set.
type PprofConfig struct {
	Enabled       bool
	Prefix        string
	Token         string
	AllowInsecure bool

	MutexProfileFraction int
	BlockProfileRate     int
}

var errInsecurePprof = errors.New("pprof refused: non-loopback addr requires token or allow_insecure")

// RegisterPprof adds the profiling routes under cfg.Prefix. addr is the
// address the server listens on, used for the exposure check.
func RegisterPprof(e *echo.Echo, addr string, cfg PprofConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if err := cfg.Check(addr); err != nil {
		return err
	}
	token := strings.TrimSpace(cfg.Token)
	applyRuntimeRates(cfg)

	prefix := normalizePrefix(cfg.Prefix)
	base := strings.TrimSuffix(prefix, "/")
	g := e.Group(base, tokenAuth(token))

	g.GET("", func(c echo.Context) error {
		return c.Redirect(http.StatusPermanentRedirect, prefix)
	})
	g.GET("/cmdline", echo.WrapHandler(http.HandlerFunc(hpprof.Cmdline)))
	g.GET("/profile", echo.WrapHandler(http.HandlerFunc(hpprof.Profile)))
	g.GET("/symbol", echo.WrapHandler(http.HandlerFunc(hpprof.Symbol)))
	g.POST("/symbol", echo.WrapHandler(http.HandlerFunc(hpprof.Symbol)))
	g.GET("/trace", echo.WrapHandler(http.HandlerFunc(hpprof.Trace)))
	g.GET("/*", echo.WrapHandler(indexAt(prefix)))
	return nil
}

// Check reports whether cfg may be served on addr.
func (cfg PprofConfig) Check(addr string) error {
	if cfg.Enabled && strings.TrimSpace(cfg.Token) == "" && !cfg.AllowInsecure && !isLoopbackAddr(addr) {
		return errInsecurePprof
	}
	return nil
}

func applyRuntimeRates(cfg PprofConfig) {
	if cfg.MutexProfileFraction > 0 {
		runtime.SetMutexProfileFraction(cfg.MutexProfileFraction)
	}
	if cfg.BlockProfileRate > 0 {
		runtime.SetBlockProfileRate(cfg.BlockProfileRate)
	}
}

// tokenAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
func tokenAuth(token string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if token == "" {
			return next
		}
		return func(c echo.Context) error {
			if got := c.QueryParam("token"); got != "" {
				if got == token {
					return next(c)
				}
				return unauthorized(c)
			}
			const p = "Bearer "
			ah := c.Request().Header.Get(echo.HeaderAuthorization)
			if strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == token {
				return next(c)
			}
			return unauthorized(c)
		}
	}
}

func unauthorized(c echo.Context) error {
	c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
	return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
}

func normalizePrefix(prefix string) string {
	p := strings.TrimSpace(prefix)
	if p == "" {
		p = "/debug/pprof/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// pprof.Index expects paths rooted at /debug/pprof/.
func indexAt(prefix string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r2 := r.Clone(r.Context())
		r2.URL.Path = "/debug/pprof/" + strings.TrimPrefix(r.URL.Path, prefix)
		hpprof.Index(w, r2)
	})
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
