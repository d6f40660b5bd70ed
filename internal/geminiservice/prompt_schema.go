package geminiservice

import "github.com/chaeyeong-lee-00/Taste-of-Weather/internal/model"

/* =================================================================================
							GEMINI SCHEMA DEFINITION
	This is the structure that tells Gemini how to format its JSON response
=================================================================================*/

// GeminiSchema defines the structure for "Controlled Generation" (Structured Output).
type GeminiSchema struct {
	// Type defines the data type (e.g., "OBJECT", "ARRAY", "STRING", "INTEGER").
	Type string `json:"type"`

	// Format specifies data format, primarily used for "enum" validation.
	Format string `json:"format,omitempty"`

	// Description explains the field's purpose to the AI.
	Description string `json:"description,omitempty"`

	// Properties maps field names to their child schemas (used when Type is "OBJECT").
	Properties map[string]*GeminiSchema `json:"properties,omitempty"`

	// Items defines the schema for elements within an array (used when Type is "ARRAY").
	Items *GeminiSchema `json:"items,omitempty"`

	// MinItems and MaxItems bound array length.
	MinItems int `json:"minItems,omitempty"`
	MaxItems int `json:"maxItems,omitempty"`

	// Minimum and Maximum bound numeric values.
	Minimum *float64 `json:"minimum,omitempty"`
	Maximum *float64 `json:"maximum,omitempty"`

	// Required lists the field names that the AI MUST include in the response.
	Required []string `json:"required,omitempty"`

	// Enum lists valid specific string values for fields with restricted options.
	Enum []string `json:"enum,omitempty"`
}

// RecommendationCount is how many dishes one request asks for.
const RecommendationCount = 5

func float(v float64) *float64 { return &v }

/* =================================================================================
						PROMPT ENGINEERING
=================================================================================*/

// RecommendSystemPrompt sets the persona for food recommendations.
const RecommendSystemPrompt = `You are a friendly Korean food curator who suggests what to eat right now.

LANGUAGE OUTPUT:
Write every foodName and reason in natural Korean.

RULES:
1. Suggest real, commonly orderable or cookable dishes. No drinks on their own.
2. Each reason is ONE short sentence linking the dish to the meal time, the taste
   preference and, when given, the weather.
3. familiarity is an integer from 1 (exotic, rarely eaten) to 5 (everyday comfort food).
4. When the user has rated dishes before, treat their scores as their real familiarity
   and lean towards the range they enjoy; do not repeat a dish they rated unless it fits perfectly.
5. Return ONLY the JSON structure defined in the schema. No markdown, no preamble.`

// RecommendPromptTemplate is filled with fmt.Sprintf:
// meal time, preference, weather line, rating history.
const RecommendPromptTemplate = `=== REQUEST ===
Meal time: %s
Taste preference: %s
Current weather: %s

=== MY PAST FAMILIARITY RATINGS ===
%s

INSTRUCTIONS:
Recommend exactly 5 dishes, best match first.`

// ImagePromptTemplate asks for a single photo of a dish.
const ImagePromptTemplate = `A photorealistic, appetizing close-up photograph of %s, a Korean-style dish, plated on a simple table, soft natural light, shallow depth of field, no text, no people.`

// WeatherPromptTemplate asks the search-grounded model for current conditions.
// Search tools cannot be combined with a response schema, so the JSON shape is
// spelled out in the prompt and the reply is parsed leniently.
const WeatherPromptTemplate = `Use Google Search to find the current weather at latitude %.4f, longitude %.4f.

Reply with ONLY a JSON object of this exact shape and nothing else:
{"condition": "<one of: %s>", "temperature": <integer degrees Celsius>}

Pick the single condition that best describes the weather right now.`

/* =================================================================================
							RESPONSE SCHEMAS
=================================================================================*/

// RecommendationSchema describes the exact JSON the recommendation call MUST output.
var RecommendationSchema = &GeminiSchema{
	Type:        "ARRAY",
	Description: "Exactly 5 dish recommendations, best match first.",
	MinItems:    RecommendationCount,
	MaxItems:    RecommendationCount,
	Items: &GeminiSchema{
		Type: "OBJECT",
		Properties: map[string]*GeminiSchema{
			"foodName": {
				Type:        "STRING",
				Description: "Dish name in Korean.",
			},
			"reason": {
				Type:        "STRING",
				Description: "One Korean sentence: why this dish fits the meal time, preference and weather.",
			},
			"familiarity": {
				Type:        "INTEGER",
				Description: "1 (exotic) to 5 (everyday comfort food).",
				Minimum:     float(model.MinFamiliarity),
				Maximum:     float(model.MaxFamiliarity),
			},
		},
		Required: []string{"foodName", "reason", "familiarity"},
	},
}
