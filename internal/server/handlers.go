package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/chaeyeong-lee-00/Taste-of-Weather/internal/flow"
	"github.com/chaeyeong-lee-00/Taste-of-Weather/internal/model"
	"github.com/chaeyeong-lee-00/Taste-of-Weather/internal/utility"
	"github.com/labstack/echo/v4"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// pageData is what index.html renders.
type pageData struct {
	Session     flow.Snapshot
	Conditions  []model.Condition
	MealTimes   []model.MealTime
	Preferences []model.Preference
}

/* ====================================================================
						Screen & State
==================================================================== */

// indexHandler renders the screen for the visitor's current step.
func (s *Server) indexHandler(c echo.Context) error {
	sess := sessionFromContext(c)
	return c.Render(http.StatusOK, "index.html", pageData{
		Session:     sess.Snapshot(),
		Conditions:  model.Conditions,
		MealTimes:   model.MealTimes,
		Preferences: model.Preferences,
	})
}

// stateHandler returns the session as JSON.
func (s *Server) stateHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, sessionFromContext(c).Snapshot())
}

// socketHandler keeps a websocket open so the loading screen can be told
// when the recommendation is ready.
func (s *Server) socketHandler(c echo.Context) error {
	sess := sessionFromContext(c)

	ws, err := utility.Upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	s.hub.Register(sess.ID(), ws)
	defer s.hub.Unregister(sess.ID(), ws)

	// The result may have landed between page render and socket open.
	if step := sess.Snapshot().Step; step != flow.StepLoading {
		s.hub.Notify(sess.ID())
	}

	// We don't expect messages from the client, but must read to notice a close.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
	return nil
}

/* ====================================================================
						Weather
==================================================================== */

func (s *Server) startHandler(c echo.Context) error {
	sess := sessionFromContext(c)
	if err := s.machine.Start(sess); err != nil {
		return s.fail(c, err)
	}
	return s.respond(c, sess)
}

// locateWeatherHandler receives the browser's geolocation outcome.
// Form: latitude, longitude, geo_error.
func (s *Server) locateWeatherHandler(c echo.Context) error {
	sess := sessionFromContext(c)
	geo := parseGeolocation(c)

	ctx, cancel := context.WithTimeout(c.Request().Context(), s.cfg.Gemini.RequestTimeout)
	defer cancel()

	if err := s.machine.ResolveWeather(ctx, sess, geo); err != nil {
		return s.fail(c, err)
	}
	return s.respond(c, sess)
}

func parseGeolocation(c echo.Context) flow.Geolocation {
	if geoErr := strings.TrimSpace(c.FormValue("geo_error")); geoErr != "" {
		return flow.Geolocation{Err: geoErr}
	}

	lat, errLat := strconv.ParseFloat(c.FormValue("latitude"), 64)
	lon, errLon := strconv.ParseFloat(c.FormValue("longitude"), 64)
	if errLat != nil || errLon != nil {
		return flow.Geolocation{Err: "invalid_coordinates"}
	}
	return flow.Geolocation{Latitude: lat, Longitude: lon}
}

// manualWeatherHandler records a weather picked by hand.
// Form: condition, temperature (optional, defaults to 20).
func (s *Server) manualWeatherHandler(c echo.Context) error {
	sess := sessionFromContext(c)

	w := model.WeatherInfo{
		Condition:   model.Condition(c.FormValue("condition")),
		Temperature: 20,
	}
	if raw := strings.TrimSpace(c.FormValue("temperature")); raw != "" {
		t, err := strconv.Atoi(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "temperature must be an integer"})
		}
		w.Temperature = t
	}

	if err := s.machine.ChooseWeather(sess, w); err != nil {
		return s.fail(c, err)
	}
	return s.respond(c, sess)
}

func (s *Server) skipWeatherHandler(c echo.Context) error {
	sess := sessionFromContext(c)
	if err := s.machine.SkipWeather(sess); err != nil {
		return s.fail(c, err)
	}
	return s.respond(c, sess)
}

/* ====================================================================
						Recommendation
==================================================================== */

// preferencesHandler moves the session to loading and runs the AI calls in
// the background; the websocket is poked when they finish.
// Form: meal_time, preference.
func (s *Server) preferencesHandler(c echo.Context) error {
	sess := sessionFromContext(c)
	logger := utility.GetLogger(c)

	if !s.beginBackground() {
		logger.Warn().Msg("refusing recommendation during shutdown")
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "server is shutting down"})
	}

	ticket, err := s.machine.BeginRecommendation(sess,
		model.MealTime(c.FormValue("meal_time")),
		model.Preference(c.FormValue("preference")),
	)
	if err != nil {
		s.inflight.Done()
		return s.fail(c, err)
	}

	go func() {
		defer s.inflight.Done()

		ctx, cancel := context.WithTimeout(s.baseCtx, s.loadTimeout)
		defer cancel()

		start := time.Now()
		err := s.machine.CompleteRecommendation(ctx, sess, ticket)
		if errors.Is(err, flow.ErrStale) {
			return
		}
		logger.Info().Err(err).Dur("took", time.Since(start)).Msg("recommendation finished")
		s.hub.Notify(sess.ID())
	}()

	return s.respond(c, sess)
}

// ratingHandler saves the adjusted familiarity of the top dish and starts over.
// Form: familiarity (1..5).
func (s *Server) ratingHandler(c echo.Context) error {
	sess := sessionFromContext(c)

	score, err := strconv.Atoi(strings.TrimSpace(c.FormValue("familiarity")))
	if err != nil || score < model.MinFamiliarity || score > model.MaxFamiliarity {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "familiarity must be an integer from 1 to 5"})
	}

	if err := s.machine.SaveRatingAndRetry(sess, score); err != nil {
		return s.fail(c, err)
	}
	return s.respond(c, sess)
}

func (s *Server) resetHandler(c echo.Context) error {
	sess := sessionFromContext(c)
	s.machine.Reset(sess)
	return s.respond(c, sess)
}

/* ====================================================================
						Health
==================================================================== */

// healthHandler reports service and host metrics.
func (s *Server) healthHandler(c echo.Context) error {
	ctx := c.Request().Context()

	stats := map[string]interface{}{
		"status":     "up",
		"uptime":     time.Since(s.startedAt).Round(time.Second).String(),
		"sessions":   s.store.Len(),
		"websockets": s.hub.Len(),
	}

	if v, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats["ram_usage"] = v.UsedPercent
	}
	if h, err := host.InfoWithContext(ctx); err == nil {
		stats["os"] = h.OS
		stats["platform"] = h.Platform
		stats["host_uptime_seconds"] = h.Uptime
	}

	return c.JSON(http.StatusOK, stats)
}

/* ====================================================================
						Helpers
==================================================================== */

// respond answers a successful action: JSON for API clients, a redirect
// back to the screen for form posts.
func (s *Server) respond(c echo.Context, sess *flow.Session) error {
	if wantsJSON(c) {
		return c.JSON(http.StatusOK, sess.Snapshot())
	}
	return c.Redirect(http.StatusSeeOther, "/")
}

// fail maps flow errors to HTTP status codes.
func (s *Server) fail(c echo.Context, err error) error {
	logger := utility.GetLogger(c)

	switch {
	case errors.Is(err, flow.ErrInvalidInput):
		logger.Info().Err(err).Msg("rejected input")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, flow.ErrInvalidTransition):
		logger.Info().Err(err).Msg("rejected transition")
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		logger.Error().Err(err).Msg("unexpected error")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func wantsJSON(c echo.Context) bool {
	return strings.Contains(c.Request().Header.Get(echo.HeaderAccept), echo.MIMEApplicationJSON)
}
