package geminiservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/chaeyeong-lee-00/Taste-of-Weather/internal/model"
)

var (
	// ErrMalformedResponse covers every reply that does not look like the
	// requested JSON: unparseable text, an empty list, or a bad first element.
	ErrMalformedResponse = errors.New("malformed AI response")

	// FallbackWeather is used whenever weather inference fails.
	FallbackWeather = model.WeatherInfo{Condition: model.ConditionCloudy, Temperature: 20}
)

// RecommendRequest carries everything the recommendation prompt embeds.
type RecommendRequest struct {
	MealTime   model.MealTime
	Preference model.Preference
	Weather    *model.WeatherInfo // nil when the user skipped weather
	Ratings    map[string]int     // food name -> familiarity chosen by the user
}

// Recommend asks Gemini for RecommendationCount dishes and returns them in rank order.
func (c *Client) Recommend(ctx context.Context, req RecommendRequest) ([]model.Recommendation, error) {
	prompt := BuildRecommendationPrompt(req)

	c.log.Info().
		Str("meal_time", string(req.MealTime)).
		Str("preference", string(req.Preference)).
		Int("ratings", len(req.Ratings)).
		Msg("requesting food recommendations")

	raw, err := c.callStructuredGemini(ctx, RecommendSystemPrompt, prompt, RecommendationSchema)
	if err != nil {
		return nil, err
	}

	recs, err := ParseRecommendations(raw)
	if err != nil {
		c.log.Warn().Err(err).Str("raw", raw).Msg("could not parse recommendations")
		return nil, err
	}
	return recs, nil
}

// GenerateFoodImage requests one photorealistic picture of foodName and
// returns it as a data URL.
func (c *Client) GenerateFoodImage(ctx context.Context, foodName string) (string, error) {
	if strings.TrimSpace(foodName) == "" {
		return "", fmt.Errorf("%w: empty food name for image", ErrMalformedResponse)
	}

	url := fmt.Sprintf("%s/models/%s:predict?key=%s", c.baseURL, c.imageModel, c.apiKey)
	payload := ImagenPayload{
		Instances: []ImagenInstance{{Prompt: fmt.Sprintf(ImagePromptTemplate, foodName)}},
		Parameters: ImagenParameters{
			SampleCount:    1,
			AspectRatio:    "1:1",
			OutputMimeType: "image/jpeg",
		},
	}

	c.log.Info().Str("food", foodName).Msg("requesting food image")

	body, err := c.post(ctx, url, payload)
	if err != nil {
		return "", err
	}

	var resp ImagenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: decode image response: %v", ErrMalformedResponse, err)
	}
	if len(resp.Predictions) == 0 || resp.Predictions[0].BytesBase64Encoded == "" {
		return "", fmt.Errorf("%w: no image returned", ErrMalformedResponse)
	}

	mime := resp.Predictions[0].MimeType
	if mime == "" {
		mime = "image/jpeg"
	}
	return "data:" + mime + ";base64," + resp.Predictions[0].BytesBase64Encoded, nil
}

// InferWeather asks the search-grounded model for the weather at a position.
// On any failure it returns FallbackWeather together with the error.
func (c *Client) InferWeather(ctx context.Context, latitude, longitude float64) (model.WeatherInfo, error) {
	prompt := fmt.Sprintf(WeatherPromptTemplate, latitude, longitude, strings.Join(model.ConditionStrings(), ", "))

	payload := GeminiPayload{
		Contents: []GeminiContent{{Parts: []GeminiPart{{Text: prompt}}}},
		Tools:    []GeminiTool{{GoogleSearch: &struct{}{}}},
	}

	raw, err := c.generateContent(ctx, payload)
	if err != nil {
		return FallbackWeather, err
	}

	w, err := ParseWeather(raw)
	if err != nil {
		c.log.Warn().Err(err).Str("raw", raw).Msg("could not parse weather")
		return FallbackWeather, err
	}
	return w, nil
}

/*=================================================================================
								HELPER FUNCTIONS
=================================================================================*/

// BuildRecommendationPrompt fills RecommendPromptTemplate.
func BuildRecommendationPrompt(req RecommendRequest) string {
	weather := "unknown (not provided)"
	if req.Weather != nil {
		weather = fmt.Sprintf("%s (%s), %d°C", req.Weather.Condition.Label(), req.Weather.Condition, req.Weather.Temperature)
	}

	return fmt.Sprintf(
		RecommendPromptTemplate,
		fmt.Sprintf("%s (%s)", req.MealTime.Label(), req.MealTime),
		fmt.Sprintf("%s (%s)", req.Preference.Label(), req.Preference),
		weather,
		FormatRatingsForAI(req.Ratings),
	)
}

// FormatRatingsForAI lists past ratings sorted by food name.
func FormatRatingsForAI(ratings map[string]int) string {
	if len(ratings) == 0 {
		return "(none yet)"
	}

	names := make([]string, 0, len(ratings))
	for name := range ratings {
		names = append(names, name)
	}
	sort.Strings(names)

	var builder strings.Builder
	for _, name := range names {
		builder.WriteString(fmt.Sprintf("- %s: %d/5\n", name, ratings[name]))
	}
	return strings.TrimRight(builder.String(), "\n")
}

// ParseRecommendations decodes the model's JSON array. Only the first element
// is shape-checked; the list is capped at RecommendationCount.
func ParseRecommendations(raw string) ([]model.Recommendation, error) {
	var recs []model.Recommendation
	if err := json.Unmarshal([]byte(StripCodeFence(raw)), &recs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: empty recommendation list", ErrMalformedResponse)
	}

	first := recs[0]
	if strings.TrimSpace(first.FoodName) == "" || strings.TrimSpace(first.Reason) == "" {
		return nil, fmt.Errorf("%w: first recommendation is missing foodName or reason", ErrMalformedResponse)
	}
	if first.Familiarity < model.MinFamiliarity || first.Familiarity > model.MaxFamiliarity {
		return nil, fmt.Errorf("%w: familiarity %d out of range", ErrMalformedResponse, first.Familiarity)
	}

	if len(recs) > RecommendationCount {
		recs = recs[:RecommendationCount]
	}
	return recs, nil
}

// ParseWeather decodes {condition, temperature}, tolerating markdown fences
// and surrounding prose.
func ParseWeather(raw string) (model.WeatherInfo, error) {
	text := StripCodeFence(raw)
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		text = text[start : end+1]
	}

	var payload struct {
		Condition   string   `json:"condition"`
		Temperature *float64 `json:"temperature"`
	}
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return model.WeatherInfo{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	cond := model.Condition(strings.ToLower(strings.TrimSpace(payload.Condition)))
	if !cond.Valid() {
		return model.WeatherInfo{}, fmt.Errorf("%w: unknown condition %q", ErrMalformedResponse, payload.Condition)
	}
	if payload.Temperature == nil {
		return model.WeatherInfo{}, fmt.Errorf("%w: missing temperature", ErrMalformedResponse)
	}
	t := *payload.Temperature
	if math.IsNaN(t) || math.IsInf(t, 0) || t < model.MinTemperature || t > model.MaxTemperature {
		return model.WeatherInfo{}, fmt.Errorf("%w: temperature %v out of range", ErrMalformedResponse, t)
	}

	return model.WeatherInfo{Condition: cond, Temperature: int(math.Round(t))}, nil
}

// StripCodeFence removes a surrounding ```json ... ``` block if present.
func StripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// drop the language tag line
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
