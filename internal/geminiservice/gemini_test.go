package geminiservice

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chaeyeong-lee-00/Taste-of-Weather/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textResponse(text string) map[string]interface{} {
	return map[string]interface{}{
		"candidates": []map[string]interface{}{
			{
				"content": map[string]interface{}{
					"parts": []map[string]interface{}{
						{"text": text},
					},
				},
			},
		},
	}
}

func newTestClient(url string) *Client {
	return NewClient("test-key",
		WithBaseURL(url),
		WithRetry(3, time.Millisecond),
		WithRequestTimeout(2*time.Second),
	)
}

const fiveDishes = `[
	{"foodName": "김치찌개", "reason": "비 오는 저녁엔 얼큰한 찌개가 제격이에요.", "familiarity": 5},
	{"foodName": "짬뽕", "reason": "매콤한 국물이 몸을 데워줘요.", "familiarity": 4},
	{"foodName": "마라탕", "reason": "얼얼한 맛으로 기분 전환.", "familiarity": 3},
	{"foodName": "부대찌개", "reason": "든든하고 매콤해요.", "familiarity": 4},
	{"foodName": "똠얌꿍", "reason": "새콤매콤한 국물 요리.", "familiarity": 2}
]`

func TestRecommend(t *testing.T) {
	var captured GeminiPayload
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(textResponse(fiveDishes))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	recs, err := c.Recommend(context.Background(), RecommendRequest{
		MealTime:   model.MealDinner,
		Preference: model.PreferenceSpicy,
		Weather:    &model.WeatherInfo{Condition: model.ConditionRainy, Temperature: 12},
		Ratings:    map[string]int{"된장찌개": 5},
	})
	require.NoError(t, err)

	require.Len(t, recs, 5)
	assert.Equal(t, "김치찌개", recs[0].FoodName)
	assert.Equal(t, 5, recs[0].Familiarity)

	assert.Equal(t, "/models/gemini-2.5-flash:generateContent", path)
	require.NotNil(t, captured.GenerationConfig)
	assert.Equal(t, "application/json", captured.GenerationConfig.ResponseMimeType)
	require.NotNil(t, captured.GenerationConfig.ResponseSchema)
	assert.Equal(t, "ARRAY", captured.GenerationConfig.ResponseSchema.Type)
	assert.Equal(t, 5, captured.GenerationConfig.ResponseSchema.MinItems)
	require.NotNil(t, captured.SystemInstruction)

	prompt := captured.Contents[0].Parts[0].Text
	assert.Contains(t, prompt, "dinner")
	assert.Contains(t, prompt, "spicy")
	assert.Contains(t, prompt, "12°C")
	assert.Contains(t, prompt, "된장찌개: 5/5")
}

func TestRecommendMalformed(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"NotJSON", "Sure! Here are some dishes: kimchi stew"},
		{"EmptyArray", "[]"},
		{"Object", `{"foodName": "비빔밥"}`},
		{"MissingReason", `[{"foodName": "비빔밥", "familiarity": 3}]`},
		{"MissingFamiliarity", `[{"foodName": "비빔밥", "reason": "좋아요"}]`},
		{"FamiliarityOutOfRange", `[{"foodName": "비빔밥", "reason": "좋아요", "familiarity": 9}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(textResponse(tt.text))
			}))
			defer server.Close()

			_, err := newTestClient(server.URL).Recommend(context.Background(), RecommendRequest{
				MealTime:   model.MealLunch,
				Preference: model.PreferenceMild,
			})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedResponse), "got %v", err)
		})
	}
}

func TestRecommendOnlyChecksFirstElement(t *testing.T) {
	text := `[
		{"foodName": "비빔밥", "reason": "가볍게 먹기 좋아요.", "familiarity": 5},
		{"foodName": "", "reason": "", "familiarity": 0}
	]`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(textResponse(text))
	}))
	defer server.Close()

	recs, err := newTestClient(server.URL).Recommend(context.Background(), RecommendRequest{
		MealTime:   model.MealLunch,
		Preference: model.PreferenceLight,
	})
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestRecommendTruncatesToFive(t *testing.T) {
	var items []model.Recommendation
	for i := 0; i < 7; i++ {
		items = append(items, model.Recommendation{FoodName: "국수", Reason: "후루룩", Familiarity: 4})
	}
	b, _ := json.Marshal(items)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(textResponse(string(b)))
	}))
	defer server.Close()

	recs, err := newTestClient(server.URL).Recommend(context.Background(), RecommendRequest{
		MealTime:   model.MealSnack,
		Preference: model.PreferenceSoup,
	})
	require.NoError(t, err)
	assert.Len(t, recs, RecommendationCount)
}

func TestRetryThenSuccess(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			io.WriteString(w, `{"error": "overloaded"}`)
			return
		}
		json.NewEncoder(w).Encode(textResponse(fiveDishes))
	}))
	defer server.Close()

	recs, err := newTestClient(server.URL).Recommend(context.Background(), RecommendRequest{
		MealTime:   model.MealBreakfast,
		Preference: model.PreferenceLight,
	})
	require.NoError(t, err)
	assert.Len(t, recs, 5)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestNoRetryOnClientError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error": {"message": "API key not valid"}}`)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Recommend(context.Background(), RecommendRequest{
		MealTime:   model.MealBreakfast,
		Preference: model.PreferenceLight,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key not valid")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestMissingAPIKey(t *testing.T) {
	c := NewClient("")
	_, err := c.Recommend(context.Background(), RecommendRequest{MealTime: model.MealLunch, Preference: model.PreferenceMild})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestGenerateFoodImage(t *testing.T) {
	var captured ImagenPayload
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"predictions": []map[string]interface{}{
				{"bytesBase64Encoded": "aGVsbG8=", "mimeType": "image/png"},
			},
		})
	}))
	defer server.Close()

	url, err := newTestClient(server.URL).GenerateFoodImage(context.Background(), "김치찌개")
	require.NoError(t, err)

	assert.Equal(t, "data:image/png;base64,aGVsbG8=", url)
	assert.Equal(t, "/models/imagen-4.0-generate-001:predict", path)
	assert.Equal(t, 1, captured.Parameters.SampleCount)
	require.Len(t, captured.Instances, 1)
	assert.Contains(t, captured.Instances[0].Prompt, "김치찌개")
	assert.Contains(t, captured.Instances[0].Prompt, "photorealistic")
}

func TestGenerateFoodImageEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"predictions": []}`)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).GenerateFoodImage(context.Background(), "김치찌개")
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestInferWeather(t *testing.T) {
	var captured GeminiPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(textResponse("```json\n{\"condition\": \"rainy\", \"temperature\": 13.6}\n```"))
	}))
	defer server.Close()

	w, err := newTestClient(server.URL).InferWeather(context.Background(), 37.5665, 126.978)
	require.NoError(t, err)
	assert.Equal(t, model.WeatherInfo{Condition: model.ConditionRainy, Temperature: 14}, w)

	require.Len(t, captured.Tools, 1)
	assert.NotNil(t, captured.Tools[0].GoogleSearch)
	assert.Nil(t, captured.GenerationConfig)
	assert.Contains(t, captured.Contents[0].Parts[0].Text, "37.5665")
}

func TestInferWeatherFallback(t *testing.T) {
	t.Run("UnknownCondition", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(textResponse(`{"condition": "hail", "temperature": 3}`))
		}))
		defer server.Close()

		w, err := newTestClient(server.URL).InferWeather(context.Background(), 1, 2)
		assert.ErrorIs(t, err, ErrMalformedResponse)
		assert.Equal(t, FallbackWeather, w)
	})

	t.Run("ImplausibleTemperature", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(textResponse(`{"condition": "sunny", "temperature": 451}`))
		}))
		defer server.Close()

		w, err := newTestClient(server.URL).InferWeather(context.Background(), 1, 2)
		assert.ErrorIs(t, err, ErrMalformedResponse)
		assert.Equal(t, FallbackWeather, w)
	})

	t.Run("ServerDown", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		w, err := newTestClient(server.URL).InferWeather(context.Background(), 1, 2)
		assert.Error(t, err)
		assert.Equal(t, model.ConditionCloudy, w.Condition)
		assert.Equal(t, 20, w.Temperature)
	})
}

func TestParseWeather(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    model.WeatherInfo
		wantErr bool
	}{
		{"Plain", `{"condition":"sunny","temperature":25}`, model.WeatherInfo{Condition: model.ConditionSunny, Temperature: 25}, false},
		{"Fenced", "```\n{\"condition\":\"snowy\",\"temperature\":-3}\n```", model.WeatherInfo{Condition: model.ConditionSnowy, Temperature: -3}, false},
		{"Prose", `Here you go: {"condition":"Foggy","temperature":9} stay safe`, model.WeatherInfo{Condition: model.ConditionFoggy, Temperature: 9}, false},
		{"MissingTemperature", `{"condition":"windy"}`, model.WeatherInfo{}, true},
		{"Garbage", `no idea`, model.WeatherInfo{}, true},
		{"Boundary", `{"condition":"snowy","temperature":-60}`, model.WeatherInfo{Condition: model.ConditionSnowy, Temperature: -60}, false},
		{"Rounded", `{"condition":"sunny","temperature":21.6}`, model.WeatherInfo{Condition: model.ConditionSunny, Temperature: 22}, false},
		{"TooHot", `{"condition":"sunny","temperature":451}`, model.WeatherInfo{}, true},
		{"TooCold", `{"condition":"snowy","temperature":-60.5}`, model.WeatherInfo{}, true},
		{"Huge", `{"condition":"sunny","temperature":1e300}`, model.WeatherInfo{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseWeather(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedResponse)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `[1]`, StripCodeFence("```json\n[1]\n```"))
	assert.Equal(t, `[1]`, StripCodeFence("```json[1]```"))
	assert.Equal(t, `[1]`, StripCodeFence("  [1]  "))
}

func TestFormatRatingsForAI(t *testing.T) {
	assert.Equal(t, "(none yet)", FormatRatingsForAI(nil))

	got := FormatRatingsForAI(map[string]int{"칼국수": 4, "가지볶음": 2})
	assert.Equal(t, "- 가지볶음: 2/5\n- 칼국수: 4/5", got)
	assert.False(t, strings.HasSuffix(got, "\n"))
}
