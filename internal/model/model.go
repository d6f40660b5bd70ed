/*
Package model holds the plain value records shared by the AI wrappers,
the screen flow and the HTTP layer.
*/
package model

import "fmt"

/* =================================================================================
							WEATHER
=================================================================================*/

// Condition is one of the six weather labels the AI and the manual form agree on.
type Condition string

const (
	ConditionSunny  Condition = "sunny"
	ConditionCloudy Condition = "cloudy"
	ConditionRainy  Condition = "rainy"
	ConditionSnowy  Condition = "snowy"
	ConditionWindy  Condition = "windy"
	ConditionFoggy  Condition = "foggy"
)

// Conditions lists every valid condition in display order.
var Conditions = []Condition{
	ConditionSunny,
	ConditionCloudy,
	ConditionRainy,
	ConditionSnowy,
	ConditionWindy,
	ConditionFoggy,
}

var conditionLabels = map[Condition]string{
	ConditionSunny:  "맑음",
	ConditionCloudy: "흐림",
	ConditionRainy:  "비",
	ConditionSnowy:  "눈",
	ConditionWindy:  "바람",
	ConditionFoggy:  "안개",
}

// Valid reports whether c is one of the six known labels.
func (c Condition) Valid() bool {
	_, ok := conditionLabels[c]
	return ok
}

// Label returns the localized display name.
func (c Condition) Label() string {
	if l, ok := conditionLabels[c]; ok {
		return l
	}
	return string(c)
}

// ConditionStrings returns the labels as plain strings, used for schema enums.
func ConditionStrings() []string {
	out := make([]string, 0, len(Conditions))
	for _, c := range Conditions {
		out = append(out, string(c))
	}
	return out
}

// Plausible air temperatures in °C; anything outside is rejected.
const (
	MinTemperature = -60
	MaxTemperature = 60
)

// WeatherInfo is the resolved (or manually chosen) weather for a session.
type WeatherInfo struct {
	Condition   Condition `json:"condition"`
	Temperature int       `json:"temperature"`
}

func (w WeatherInfo) String() string {
	return fmt.Sprintf("%s, %d°C", w.Condition.Label(), w.Temperature)
}

/* =================================================================================
							USER SELECTIONS
=================================================================================*/

// MealTime is the day-part the user is choosing food for.
type MealTime string

const (
	MealBreakfast MealTime = "breakfast"
	MealLunch     MealTime = "lunch"
	MealDinner    MealTime = "dinner"
	MealSnack     MealTime = "snack"
)

var MealTimes = []MealTime{MealBreakfast, MealLunch, MealDinner, MealSnack}

var mealTimeLabels = map[MealTime]string{
	MealBreakfast: "아침",
	MealLunch:     "점심",
	MealDinner:    "저녁",
	MealSnack:     "간식",
}

func (m MealTime) Valid() bool {
	_, ok := mealTimeLabels[m]
	return ok
}

func (m MealTime) Label() string {
	if l, ok := mealTimeLabels[m]; ok {
		return l
	}
	return string(m)
}

// Preference is the taste category the user is in the mood for.
type Preference string

const (
	PreferenceSpicy Preference = "spicy"
	PreferenceMild  Preference = "mild"
	PreferenceSoup  Preference = "soup"
	PreferenceLight Preference = "light"
	PreferenceHeavy Preference = "heavy"
)

var Preferences = []Preference{PreferenceSpicy, PreferenceMild, PreferenceSoup, PreferenceLight, PreferenceHeavy}

var preferenceLabels = map[Preference]string{
	PreferenceSpicy: "매콤한 음식",
	PreferenceMild:  "순한 음식",
	PreferenceSoup:  "국물 요리",
	PreferenceLight: "가벼운 음식",
	PreferenceHeavy: "든든한 음식",
}

func (p Preference) Valid() bool {
	_, ok := preferenceLabels[p]
	return ok
}

func (p Preference) Label() string {
	if l, ok := preferenceLabels[p]; ok {
		return l
	}
	return string(p)
}

/* =================================================================================
							RECOMMENDATIONS
=================================================================================*/

const (
	MinFamiliarity = 1
	MaxFamiliarity = 5
)

// Recommendation is one dish suggested by the AI.
type Recommendation struct {
	FoodName    string `json:"foodName"`
	Reason      string `json:"reason"`
	Familiarity int    `json:"familiarity"`
}

// FinalRecommendation is a Recommendation ready for display. Only the top
// entry carries an image.
type FinalRecommendation struct {
	Recommendation
	ImageURL string `json:"imageUrl,omitempty"`
}

// ClampFamiliarity forces a score into the 1..5 range.
func ClampFamiliarity(score int) int {
	if score < MinFamiliarity {
		return MinFamiliarity
	}
	if score > MaxFamiliarity {
		return MaxFamiliarity
	}
	return score
}
