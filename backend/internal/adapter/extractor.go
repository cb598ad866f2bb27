package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"personalmem/backend/internal/memory"
	"personalmem/backend/pkg/errors"
	"personalmem/backend/pkg/logger"
)

// Extractor turns a raw user message into proposed field updates using an
// OpenAI-compatible chat endpoint. Extraction quality is the model's
// concern; shape validation happens in memory.ParseUpdatesJSON.
type Extractor struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewExtractor creates an extractor against an OpenAI-compatible base URL
// (OpenAI itself, LiteLLM, an Azure front-end)
func NewExtractor(baseURL, apiKey, model string) *Extractor {
	if apiKey == "" {
		apiKey = "dummy-key"
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}

	return &Extractor{
		client: openai.NewClientWithConfig(config),
		model:  model,
		logger: logger.Get(),
	}
}

const extractionSystemPrompt = `Extract ALL personal info from user messages. Return JSON only.

IDENTITY: name, nickname, age, birthday, gender, nationality, ethnicity
LOCATION: location, hometown, timezone, address
WORK: role, company, industry, experience_years, stack, skills[], certifications[], education, career_goals[]
PREFERENCES: likes[], dislikes[], hobbies[], interests[], favorite_foods[], favorite_music[], favorite_movies[], favorite_books[], favorite_games[], favorite_sports[]
LIFESTYLE: diet, exercise, sleep_schedule, work_style, communication_style, morning_person
RELATIONSHIPS: family[], pets[], relationship_status, partner_name, children[]
LANGUAGES: languages[], native_language, learning_languages[]
HEALTH: allergies[], health_conditions[], disabilities[]
PERSONALITY: personality_traits[], values[], life_goals[], fears[], strengths[], weaknesses[]
FINANCE: income_range, financial_goals[]
OTHER: habits[], routines[], memorable_facts[], achievements[], travel_history[], bucket_list[]

RULES:
- Extract EVERYTHING personal mentioned
- Lists use arrays: {"skills": ["Python", "Java"]}
- Single values use strings: {"name": "John"}
- Negative statements use "remove_" prefix: {"remove_skills": ["React"]}
- Full corrections use "replace_" prefix: {"replace_skills": ["Go", "Rust"]}
- Create new fields if needed for unique info
- Skip: temporary states, current tasks, questions without personal info

EXAMPLES:
{"name": "John", "age": 28, "birthday": "March 15"}
{"role": "developer", "company": "Google", "skills": ["Python"], "experience_years": 5}
{"likes": ["pizza", "hiking"], "dislikes": ["tomatoes"], "hobbies": ["hiking", "reading"]}
{"pets": ["dog named Max"], "family": ["wife Sarah", "son aged 3"]}
{"languages": ["English", "Spanish"], "learning_languages": ["Japanese"]}
{"diet": "vegetarian", "allergies": ["nuts", "shellfish"]}
{"remove_skills": ["Java"]} (when user says "I forgot Java")

Return {} if no personal info found.`

// Extract proposes field updates for a message given the user's current
// fields. A nil result with no error means the message carried no durable
// personal information.
func (e *Extractor) Extract(ctx context.Context, message string, currentFields map[string]any) ([]memory.ProposedUpdate, []memory.Warning, error) {
	current := "{}"
	if len(currentFields) > 0 {
		encoded, err := json.Marshal(currentFields)
		if err == nil {
			current = string(encoded)
		}
	}

	userPrompt := fmt.Sprintf("Memories: %s\nMessage: %q\nExtract ALL personal info as JSON:", current, message)

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.model,
		Temperature: 0.1,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: extractionSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	})
	if err != nil {
		return nil, nil, errors.NewExtractionFailed(e.model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, nil, errors.NewExtractionFailed(e.model, fmt.Errorf("empty completion"))
	}

	raw := stripJSONFence(resp.Choices[0].Message.Content)
	e.logger.Debug("Extraction response", zap.String("raw", raw))

	updates, warnings, err := memory.ParseUpdatesJSON([]byte(raw))
	if err != nil {
		return nil, nil, errors.NewExtractionFailed(e.model, err)
	}
	return updates, warnings, nil
}

// stripJSONFence unwraps a markdown-fenced JSON block. Some models fence
// their output even when asked for a bare JSON object.
func stripJSONFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}
