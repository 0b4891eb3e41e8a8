package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/satriahrh/voicectl/server/domain/repositories"
)

const (
	defaultModel       = "gemini-2.5-flash"
	defaultTemperature = 0.7
	defaultTopP        = 0.95
	defaultTopK        = 40
	defaultMaxTokens   = 512
	defaultTimeout     = 30 * time.Second
	maxAttempts        = 3
	// maxToolRounds bounds function calling within one turn.
	maxToolRounds = 3
)

// GeminiConfig configures the Gemini adapter. Only APIKey is required.
type GeminiConfig struct {
	APIKey          string
	Model           string
	Temperature     float32
	TopP            float32
	TopK            float32
	MaxOutputTokens int
	Timeout         time.Duration
	// BaseURL overrides the API endpoint.
	BaseURL string
}

// ValidateGeminiConfig validates the GeminiConfig
func ValidateGeminiConfig(config GeminiConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("Gemini API key is required")
	}
	if config.Temperature < 0 || config.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", config.Temperature)
	}
	if config.TopP < 0 || config.TopP > 1 {
		return fmt.Errorf("topP must be between 0 and 1, got %f", config.TopP)
	}
	if config.TopK < 0 {
		return fmt.Errorf("topK must be positive, got %f", config.TopK)
	}
	if config.Timeout < 0 {
		return fmt.Errorf("timeout must be positive, got %s", config.Timeout)
	}
	return nil
}

// GeminiLLM implements the LargeLanguageModel interface using Google's Gemini API
type GeminiLLM struct {
	client *genai.Client
	cfg    GeminiConfig
	logger *zap.Logger
}

var _ repositories.LargeLanguageModel = (*GeminiLLM)(nil)

// NewGeminiLLM creates a new Gemini LLM instance
func NewGeminiLLM(ctx context.Context, config GeminiConfig, logger *zap.Logger) (*GeminiLLM, error) {
	if err := ValidateGeminiConfig(config); err != nil {
		return nil, err
	}
	if config.Model == "" {
		config.Model = defaultModel
		logger.Info("Using default model", zap.String("model", config.Model))
	}
	if config.Temperature == 0 {
		config.Temperature = defaultTemperature
	}
	if config.TopP == 0 {
		config.TopP = defaultTopP
	}
	if config.TopK == 0 {
		config.TopK = defaultTopK
	}
	if config.MaxOutputTokens == 0 {
		config.MaxOutputTokens = defaultMaxTokens
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
		logger.Info("Using default timeout", zap.Duration("timeout", config.Timeout))
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      config.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: config.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiLLM{client: client, cfg: config, logger: logger}, nil
}

// Generate answers a single prompt without history.
func (g *GeminiLLM) Generate(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	return g.generate(ctx, contents, g.generationConfig(""))
}

// GenerateChat creates a chat session with history. System messages become
// the system instruction.
func (g *GeminiLLM) GenerateChat(ctx context.Context, history []repositories.ChatMessage) (repositories.ChatSession, error) {
	system, contents := toGeminiContents(history)
	return &GeminiChatSession{
		llm:     g,
		config:  g.generationConfig(system),
		history: contents,
	}, nil
}

func (g *GeminiLLM) generationConfig(system string) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		SafetySettings:  safetySettings,
		Temperature:     genai.Ptr(g.cfg.Temperature),
		TopP:            genai.Ptr(g.cfg.TopP),
		TopK:            genai.Ptr(g.cfg.TopK),
		MaxOutputTokens: int32(g.cfg.MaxOutputTokens),
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	return config
}

// generate calls the model with retries and returns the joined text parts.
func (g *GeminiLLM) generate(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (string, error) {
	response, err := g.generateResponse(ctx, contents, config)
	if err != nil {
		return "", err
	}
	return responseText(response)
}

// converse generates like generate but runs the function calls the model
// makes through exec and feeds the results back, for at most maxToolRounds
// rounds.
func (g *GeminiLLM) converse(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig, exec repositories.ToolExecutor) (string, error) {
	contents = append([]*genai.Content(nil), contents...)
	for round := 0; ; round++ {
		response, err := g.generateResponse(ctx, contents, config)
		if err != nil {
			return "", err
		}
		calls := response.FunctionCalls()
		if len(calls) == 0 || exec == nil || round == maxToolRounds {
			return responseText(response)
		}

		parts := make([]*genai.Part, 0, len(calls))
		for _, call := range calls {
			output, err := exec(ctx, call.Name, call.Args)
			result := map[string]any{"output": output}
			if err != nil {
				if ctx.Err() != nil {
					return "", ctx.Err()
				}
				g.logger.Warn("Function call failed", zap.String("function", call.Name), zap.Error(err))
				result = map[string]any{"error": err.Error()}
			} else {
				g.logger.Info("Function called", zap.String("function", call.Name), zap.String("output", preview(output)))
			}
			part := genai.NewPartFromFunctionResponse(call.Name, result)
			part.FunctionResponse.ID = call.ID
			parts = append(parts, part)
		}
		contents = append(contents, response.Candidates[0].Content, genai.NewContentFromParts(parts, genai.RoleUser))
	}
}

func (g *GeminiLLM) generateResponse(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	var response *genai.GenerateContentResponse
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		response, err = g.client.Models.GenerateContent(ctx, g.cfg.Model, contents, config)
		if err == nil {
			break
		}
		g.logger.Warn("Failed to generate content, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		if attempt < maxAttempts-1 {
			select {
			case <-time.After(time.Duration(attempt+1) * time.Second):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	if len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return nil, fmt.Errorf("gemini generate: no candidates")
	}
	return response, nil
}

func responseText(response *genai.GenerateContentResponse) (string, error) {
	var text strings.Builder
	for _, part := range response.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("gemini generate: empty response")
	}
	return text.String(), nil
}

// functionDeclarations describes tools to the model.
func functionDeclarations(tools []repositories.Tool) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decl := &genai.FunctionDeclaration{Name: t.Name, Description: t.Description}
		var schema map[string]any
		if len(t.Parameters) > 0 && json.Unmarshal(t.Parameters, &schema) == nil {
			decl.ParametersJsonSchema = schema
		}
		decls = append(decls, decl)
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

var safetySettings = []*genai.SafetySetting{
	{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
	{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
	{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
	{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
}
