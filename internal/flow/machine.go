package flow

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"

	"github.com/chaeyeong-lee-00/Taste-of-Weather/internal/geminiservice"
	"github.com/chaeyeong-lee-00/Taste-of-Weather/internal/model"
	"github.com/rs/zerolog"
)

// GenericErrorMessage is the only failure text a visitor ever sees.
const GenericErrorMessage = "추천을 불러오지 못했어요. 잠시 후 다시 시도해 주세요."

var (
	// ErrInvalidTransition means the action is not allowed on the current screen.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrInvalidInput means a form value is outside its fixed set or range.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStale means the session moved on (reset or resubmitted) while the
	// AI call was running; the result was dropped.
	ErrStale = errors.New("stale recommendation result")
)

// AI is the subset of the Gemini client the flow depends on.
type AI interface {
	Recommend(ctx context.Context, req geminiservice.RecommendRequest) ([]model.Recommendation, error)
	GenerateFoodImage(ctx context.Context, foodName string) (string, error)
	InferWeather(ctx context.Context, latitude, longitude float64) (model.WeatherInfo, error)
}

// Geolocation is what the browser reported. Err carries the browser-side
// failure ("unsupported", "denied", "timeout", ...) and is empty on success.
type Geolocation struct {
	Latitude  float64
	Longitude float64
	Err       string
}

// Usable reports whether the position can be sent to weather inference.
func (g Geolocation) Usable() bool {
	if g.Err != "" {
		return false
	}
	if math.IsNaN(g.Latitude) || math.IsNaN(g.Longitude) {
		return false
	}
	return g.Latitude >= -90 && g.Latitude <= 90 && g.Longitude >= -180 && g.Longitude <= 180
}

// Ticket identifies one recommendation request started by BeginRecommendation.
type Ticket struct {
	generation uint64
	request    geminiservice.RecommendRequest
}

// Machine drives Session transitions.
type Machine struct {
	ai  AI
	log *zerolog.Logger
}

func NewMachine(ai AI, logger *zerolog.Logger) *Machine {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Machine{ai: ai, log: logger}
}

func transitionError(action string, from Step) error {
	return fmt.Errorf("%w: cannot %s from %s", ErrInvalidTransition, action, from)
}

/* =================================================================================
								WEATHER
=================================================================================*/

// Start moves from the welcome screen to weather lookup.
func (m *Machine) Start(s *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.step != StepWelcome {
		return transitionError("start", s.step)
	}
	s.step = StepGettingWeather
	return nil
}

// ResolveWeather turns a browser geolocation into weather. Every failure path
// ends on the manual selection screen; nothing is surfaced as an error except
// calling it from the wrong screen.
func (m *Machine) ResolveWeather(ctx context.Context, s *Session, geo Geolocation) error {
	s.mu.Lock()
	if s.step != StepGettingWeather {
		step := s.step
		s.mu.Unlock()
		return transitionError("resolve weather", step)
	}
	generation := s.generation
	if !geo.Usable() {
		m.log.Info().Str("session_id", s.id).Str("geo_error", geo.Err).Msg("geolocation unavailable, asking for manual weather")
		s.step = StepManualWeather
		s.suggested = geminiservice.FallbackWeather
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	weather, err := m.ai.InferWeather(ctx, geo.Latitude, geo.Longitude)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != generation || s.step != StepGettingWeather {
		// The visitor reset or chose manually while we were waiting.
		return nil
	}
	if err != nil {
		m.log.Warn().Err(err).Str("session_id", s.id).Msg("weather inference failed, asking for manual weather")
		s.step = StepManualWeather
		s.suggested = weather
		return nil
	}

	s.weather = &weather
	s.step = StepPreferences
	return nil
}

// ChooseWeather records a manually selected weather.
func (m *Machine) ChooseWeather(s *Session, w model.WeatherInfo) error {
	if !w.Condition.Valid() {
		return fmt.Errorf("%w: unknown weather condition %q", ErrInvalidInput, w.Condition)
	}
	if w.Temperature < model.MinTemperature || w.Temperature > model.MaxTemperature {
		return fmt.Errorf("%w: temperature %d out of range", ErrInvalidInput, w.Temperature)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.step != StepManualWeather && s.step != StepGettingWeather {
		return transitionError("choose weather", s.step)
	}
	s.weather = &w
	s.step = StepPreferences
	return nil
}

// SkipWeather continues without weather.
func (m *Machine) SkipWeather(s *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.step != StepManualWeather && s.step != StepGettingWeather {
		return transitionError("skip weather", s.step)
	}
	s.weather = nil
	s.step = StepPreferences
	return nil
}

/* =================================================================================
							RECOMMENDATIONS
=================================================================================*/

// BeginRecommendation validates the selections and enters the loading screen.
// The returned Ticket is handed to CompleteRecommendation.
func (m *Machine) BeginRecommendation(s *Session, meal model.MealTime, pref model.Preference) (Ticket, error) {
	if !meal.Valid() {
		return Ticket{}, fmt.Errorf("%w: unknown meal time %q", ErrInvalidInput, meal)
	}
	if !pref.Valid() {
		return Ticket{}, fmt.Errorf("%w: unknown preference %q", ErrInvalidInput, pref)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.step != StepPreferences {
		return Ticket{}, transitionError("submit preferences", s.step)
	}

	s.mealTime = meal
	s.preference = pref
	s.recommendations = nil
	s.errMessage = ""
	s.step = StepLoading
	s.generation++

	req := geminiservice.RecommendRequest{
		MealTime:   meal,
		Preference: pref,
		Ratings:    maps.Clone(s.ratings),
	}
	if s.weather != nil {
		w := *s.weather
		req.Weather = &w
	}
	return Ticket{generation: s.generation, request: req}, nil
}

// CompleteRecommendation runs the recommendation and image calls for t and
// moves the session to result or error. The returned error is for logging;
// the session already reflects it.
func (m *Machine) CompleteRecommendation(ctx context.Context, s *Session, t Ticket) error {
	finals, err := m.fetch(ctx, t.request)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != t.generation || s.step != StepLoading {
		m.log.Info().Str("session_id", s.id).Msg("dropping recommendation for a superseded request")
		return ErrStale
	}

	if err != nil {
		m.log.Error().Err(err).Str("session_id", s.id).Msg("recommendation failed")
		s.step = StepError
		s.errMessage = GenericErrorMessage
		return err
	}

	s.recommendations = finals
	s.step = StepResult
	return nil
}

// SubmitPreferences is BeginRecommendation followed by CompleteRecommendation.
func (m *Machine) SubmitPreferences(ctx context.Context, s *Session, meal model.MealTime, pref model.Preference) error {
	t, err := m.BeginRecommendation(s, meal, pref)
	if err != nil {
		return err
	}
	return m.CompleteRecommendation(ctx, s, t)
}

func (m *Machine) fetch(ctx context.Context, req geminiservice.RecommendRequest) ([]model.FinalRecommendation, error) {
	recs, err := m.ai.Recommend(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("recommend: %w", err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("recommend: %w", geminiservice.ErrMalformedResponse)
	}

	image, err := m.ai.GenerateFoodImage(ctx, recs[0].FoodName)
	if err != nil {
		return nil, fmt.Errorf("image for %q: %w", recs[0].FoodName, err)
	}

	finals := make([]model.FinalRecommendation, len(recs))
	for i, r := range recs {
		finals[i] = model.FinalRecommendation{Recommendation: r}
	}
	finals[0].ImageURL = image
	return finals, nil
}

/* =================================================================================
							RATING & RESET
=================================================================================*/

// SaveRatingAndRetry stores the visitor's familiarity score for the top dish
// under its exact name, then starts over.
func (m *Machine) SaveRatingAndRetry(s *Session, score int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.step != StepResult || len(s.recommendations) == 0 {
		return transitionError("save rating", s.step)
	}

	name := s.recommendations[0].FoodName
	if s.ratings == nil {
		s.ratings = make(map[string]int)
	}
	s.ratings[name] = model.ClampFamiliarity(score)

	m.log.Info().Str("session_id", s.id).Str("food", name).Int("familiarity", s.ratings[name]).Msg("saved familiarity rating")

	s.resetLocked()
	return nil
}

// Reset returns to the welcome screen from anywhere, keeping ratings.
func (m *Machine) Reset(s *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}
