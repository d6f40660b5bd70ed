/*
Package flow implements the visitor's screen state machine:

	welcome -> getting_weather -> (manual_weather) -> preferences -> loading -> result | error

Each visitor owns one Session. All transitions go through a Machine so that
the AI calls and the fallback rules live in one place.
*/
package flow

import (
	"maps"
	"sync"
	"time"

	"github.com/chaeyeong-lee-00/Taste-of-Weather/internal/model"
)

// Step is the screen currently shown to the visitor.
type Step string

const (
	StepWelcome        Step = "welcome"
	StepGettingWeather Step = "getting_weather"
	StepManualWeather  Step = "manual_weather"
	StepPreferences    Step = "preferences"
	StepLoading        Step = "loading"
	StepResult         Step = "result"
	StepError          Step = "error"
)

// Session is one visitor's state. The rating table outlives Reset; every
// other field is transient.
type Session struct {
	mu sync.Mutex

	id              string
	step            Step
	weather         *model.WeatherInfo
	suggested       model.WeatherInfo
	mealTime        model.MealTime
	preference      model.Preference
	recommendations []model.FinalRecommendation
	errMessage      string
	ratings         map[string]int

	// generation changes on every Begin and Reset so late AI replies can be
	// told apart from the current request.
	generation uint64
	lastSeen   time.Time
}

// NewSession returns a session on the welcome screen.
func NewSession(id string) *Session {
	return &Session{
		id:       id,
		step:     StepWelcome,
		ratings:  make(map[string]int),
		lastSeen: time.Now(),
	}
}

func (s *Session) ID() string { return s.id }

// Touch records activity for idle expiry.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Snapshot is a read-only copy of a Session, safe to render or encode.
type Snapshot struct {
	ID               string                      `json:"id"`
	Step             Step                        `json:"step"`
	Weather          *model.WeatherInfo          `json:"weather,omitempty"`
	SuggestedWeather model.WeatherInfo           `json:"suggestedWeather"`
	MealTime         model.MealTime              `json:"mealTime,omitempty"`
	Preference       model.Preference            `json:"preference,omitempty"`
	Recommendations  []model.FinalRecommendation `json:"recommendations"`
	Error            string                      `json:"error,omitempty"`
	Ratings          map[string]int              `json:"ratings"`
}

// Top returns the first recommendation, if any.
func (s Snapshot) Top() (model.FinalRecommendation, bool) {
	if len(s.Recommendations) == 0 {
		return model.FinalRecommendation{}, false
	}
	return s.Recommendations[0], true
}

// Snapshot copies the session under its lock.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:               s.id,
		Step:             s.step,
		SuggestedWeather: s.suggested,
		MealTime:         s.mealTime,
		Preference:       s.preference,
		Recommendations:  append([]model.FinalRecommendation(nil), s.recommendations...),
		Error:            s.errMessage,
		Ratings:          maps.Clone(s.ratings),
	}
	if s.weather != nil {
		w := *s.weather
		snap.Weather = &w
	}
	if snap.Ratings == nil {
		snap.Ratings = map[string]int{}
	}
	return snap
}

// resetLocked clears everything but the rating table. Caller holds mu.
func (s *Session) resetLocked() {
	s.step = StepWelcome
	s.weather = nil
	s.suggested = model.WeatherInfo{}
	s.mealTime = ""
	s.preference = ""
	s.recommendations = nil
	s.errMessage = ""
	s.generation++
}
