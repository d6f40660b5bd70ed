package server

import (
	"embed"
	"html/template"
	"io"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/chaeyeong-lee-00/Taste-of-Weather/internal/flow"
	"github.com/chaeyeong-lee-00/Taste-of-Weather/internal/utility"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

//go:embed templates/*.html
var templateFS embed.FS

// TemplateRenderer is a custom html/template renderer for Echo framework
type TemplateRenderer struct {
	templates *template.Template
}

// Render renders a template document
func (t *TemplateRenderer) Render(w io.Writer, name string, data interface{}, c echo.Context) error {
	return t.templates.ExecuteTemplate(w, name, data)
}

var templateFuncs = template.FuncMap{
	// imageSrc lets generated data:image URLs through html/template's URL filter.
	"imageSrc": func(u string) template.URL {
		if strings.HasPrefix(u, "data:image/") {
			return template.URL(u)
		}
		return ""
	},
	"seq": func(from, to int) []int {
		out := make([]int, 0, to-from+1)
		for i := from; i <= to; i++ {
			out = append(out, i)
		}
		return out
	},
}

func newRenderer() *TemplateRenderer {
	return &TemplateRenderer{
		templates: template.Must(template.New("").Funcs(templateFuncs).ParseFS(templateFS, "templates/*.html")),
	}
}

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Renderer = newRenderer()
	e.IPExtractor = s.ipExtractor()

	e.Use(middleware.Recover())
	e.Use(LoggerMiddleware)
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: false,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			utility.GetLogger(c).Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Msg("request")
			return nil
		},
	}))

	e.GET("/health", s.healthHandler)

	// Everything else is tied to a visitor session.
	visitor := e.Group("", s.SessionMiddleware)
	visitor.GET("/", s.indexHandler)
	visitor.GET("/state", s.stateHandler)
	visitor.GET("/ws", s.socketHandler)
	visitor.POST("/start", s.startHandler)
	visitor.POST("/weather/manual", s.manualWeatherHandler)
	visitor.POST("/weather/skip", s.skipWeatherHandler)
	visitor.POST("/rating", s.ratingHandler)
	visitor.POST("/reset", s.resetHandler)

	// AI-backed routes are rate limited per client IP.
	limited := visitor.Group("", s.rateLimiter())
	limited.POST("/weather/locate", s.locateWeatherHandler)
	limited.POST("/preferences", s.preferencesHandler)

	return e
}

// ipExtractor trusts X-Forwarded-For only from the configured proxy ranges;
// without any, the TCP peer is the client.
func (s *Server) ipExtractor() echo.IPExtractor {
	if len(s.cfg.TrustedProxies) == 0 {
		return echo.ExtractIPDirect()
	}

	opts := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, cidr := range s.cfg.TrustedProxies {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			log.Warn().Str("cidr", cidr).Msg("ignoring invalid trusted proxy range")
			continue
		}
		opts = append(opts, echo.TrustIPRange(network))
	}
	return echo.ExtractIPFromXFFHeader(opts...)
}

func (s *Server) rateLimiter() echo.MiddlewareFunc {
	burst := int(math.Ceil(s.cfg.RateLimit))
	if burst < 5 {
		burst = 5
	}
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(s.cfg.RateLimit),
			Burst:     burst,
			ExpiresIn: 3 * time.Minute,
		}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return utility.GetRealIP(c), nil
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			utility.GetLogger(c).Warn().Str("ip", identifier).Msg("rate limit exceeded")
			return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "too many requests, please try again later"})
		},
	})
}

// LoggerMiddleware attaches a request id and a request-scoped logger.
func LoggerMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		requestID := c.Request().Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("request_id", requestID)
		c.Response().Header().Set("X-Request-ID", requestID)

		logger := log.With().Str("request_id", requestID).Logger()

		c.Set("logger", &logger)

		return next(c)
	}
}

// SessionMiddleware loads (or creates) the visitor's session and stores it
// in the context under "session".
func (s *Server) SessionMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		sess, err := s.store.Load(c.Response(), c.Request())
		if err != nil {
			utility.GetLogger(c).Error().Err(err).Msg("SessionMiddleware: could not load session")
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "session unavailable"})
		}
		c.Set("session", sess)

		logger := utility.GetLogger(c).With().Str("session_id", sess.ID()).Logger()
		c.Set("logger", &logger)

		return next(c)
	}
}

func sessionFromContext(c echo.Context) *flow.Session {
	sess, _ := c.Get("session").(*flow.Session)
	return sess
}
