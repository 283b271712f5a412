// SPDX-License-Identifier: MPL-2.0

package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/faultlab/faultlab/internal/failure"
	"github.com/faultlab/faultlab/internal/scenario"
)

// DefaultModel is the Gemini model used when none is configured.
const DefaultModel = "gemini-2.5-flash"

const systemInstruction = "You are a Linux system administrator expert who creates realistic troubleshooting scenarios. Always respond with valid JSON."

// ErrMissingAPIKey is returned when no API key is configured or exported.
var ErrMissingAPIKey = errors.New("no Gemini API key: set generator.api_key, GEMINI_API_KEY, or GOOGLE_API_KEY")

type (
	// GenAI generates issues with a Gemini model.
	GenAI struct {
		models contentGenerator
		model  string
		intn   func(n int) int
		logger *slog.Logger
	}

	// GenAIConfig configures NewGenAI.
	GenAIConfig struct {
		// APIKey falls back to GEMINI_API_KEY, then GOOGLE_API_KEY.
		APIKey string
		// Model defaults to DefaultModel.
		Model string
	}

	contentGenerator interface {
		GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	}
)

// NewGenAI creates a Gemini-backed generator.
func NewGenAI(ctx context.Context, cfg GenAIConfig) (*GenAI, error) {
	key := cfg.APIKey
	for _, env := range []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"} {
		if key == "" {
			key = os.Getenv(env)
		}
	}
	if key == "" {
		return nil, failure.NewErrorContext().
			WithKind(failure.KindGeneration).
			WithOperation("create scenario generator").
			WithSuggestion("Export GEMINI_API_KEY or set generator.api_key in the config file").
			WithSuggestion("Use generator.provider = \"catalog\" to play offline").
			Wrap(ErrMissingAPIKey).
			BuildError()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, failure.Wrap(err, failure.KindGeneration, "create GenAI client")
	}
	return newGenAI(client.Models, cfg.Model), nil
}

func newGenAI(models contentGenerator, model string) *GenAI {
	if model == "" {
		model = DefaultModel
	}
	return &GenAI{
		models: models,
		model:  model,
		intn:   rand.IntN,
		logger: slog.With("component", "generator", "model", model),
	}
}

// Generate asks the model for one issue and validates it.
func (g *GenAI) Generate(ctx context.Context, difficulty scenario.Difficulty, category scenario.Category) (*scenario.Issue, error) {
	if err := checkRequest(difficulty, category); err != nil {
		return nil, err
	}
	difficulty = difficulty.OrDefault()
	if category == "" {
		all := scenario.Categories()
		category = all[g.intn(len(all))]
	}

	g.logger.Info("generating issue", "difficulty", difficulty, "category", category)

	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(Prompt(difficulty, category)), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    issueSchema(),
	})
	if err != nil {
		return nil, failure.NewErrorContext().
			WithKind(failure.KindGeneration).
			WithOperation("generate issue").
			WithResource(g.model).
			WithSuggestion("Check the API key and network connectivity").
			Wrap(err).
			BuildError()
	}

	issue, err := ParseIssue(resp.Text())
	if err != nil {
		return nil, err
	}
	g.logger.Debug("generated issue", "id", issue.ID, "title", issue.Title)
	return issue, nil
}

// ParseIssue decodes a model response into a validated issue. A missing id
// is replaced with a random one; nothing else is repaired.
func ParseIssue(text string) (*scenario.Issue, error) {
	text = stripCodeFence(text)
	if text == "" {
		return nil, failure.Wrap(errors.New("model returned an empty response"), failure.KindGeneration, "generate issue")
	}

	var issue scenario.Issue
	if err := json.Unmarshal([]byte(text), &issue); err != nil {
		return nil, failure.NewErrorContext().
			WithKind(failure.KindValidation).
			WithOperation("decode generated issue").
			Wrap(err).
			BuildError()
	}
	if strings.TrimSpace(issue.ID) == "" {
		issue.ID = uuid.NewString()
	}
	if err := issue.Validate(); err != nil {
		return nil, err
	}
	if !issue.Category.Known() {
		return nil, failure.Wrap(issue.Category.Validate(), failure.KindValidation, "validate generated issue")
	}
	if err := issue.Difficulty.Validate(); err != nil {
		return nil, failure.Wrap(err, failure.KindValidation, "validate generated issue")
	}
	return &issue, nil
}

// Prompt is the user prompt for one scenario.
func Prompt(difficulty scenario.Difficulty, category scenario.Category) string {
	return fmt.Sprintf(`
Create a realistic Linux troubleshooting scenario for a %[1]s difficulty level in the %[2]s category.

The scenario should include:
1. A title that briefly describes the issue
2. A detailed description of the problem from the user's perspective
3. A setup script that creates the issue in a Docker container
4. A verification script that checks if the issue has been resolved
5. A list of hints that gradually guide the user to the solution
6. The solution that resolves the issue

The setup script should create a realistic issue that a system administrator might encounter.
The verification script should check if the issue has been resolved and exit with code 0 if successful.
The description must be at least %[3]d characters, both scripts at least %[4]d characters, and there must be at least %[5]d hints.

Respond with a JSON object in the following format:
{
  "id": "unique-id",
  "title": "Brief title of the issue",
  "description": "Detailed description of the problem",
  "category": "%[2]s",
  "difficulty": "%[1]s",
  "setup_script": "#!/bin/bash\n# Script that sets up the issue",
  "verification_script": "#!/bin/bash\n# Script that verifies the solution",
  "hints": [
    "First hint - general guidance",
    "Second hint - more specific",
    "Third hint - very specific"
  ],
  "solution": "Detailed explanation of the solution",
  "base_image": "%[6]s"
}
`, difficulty, category, scenario.MinDescriptionLength, scenario.MinScriptLength, scenario.MinHints, scenario.DefaultBaseImage)
}

func issueSchema() *genai.Schema {
	str := func(desc string) *genai.Schema {
		return &genai.Schema{Type: genai.TypeString, Description: desc}
	}
	categories := make([]string, 0, len(scenario.Categories()))
	for _, c := range scenario.Categories() {
		categories = append(categories, string(c))
	}

	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"id":                  str("Short kebab-case identifier"),
			"title":               str("Brief title of the issue"),
			"description":         str("Detailed description of the problem"),
			"category":            {Type: genai.TypeString, Enum: categories},
			"difficulty":          {Type: genai.TypeString, Enum: []string{"easy", "medium", "hard"}},
			"setup_script":        str("Bash script that creates the issue"),
			"verification_script": str("Bash script that exits 0 once the issue is resolved"),
			"hints": {
				Type:     genai.TypeArray,
				Items:    str("One hint, from general to specific"),
				MinItems: genai.Ptr[int64](int64(scenario.MinHints)),
			},
			"solution":   str("Explanation of the fix"),
			"base_image": str("Container base image"),
		},
		Required: []string{"id", "title", "description", "category", "difficulty", "setup_script", "verification_script", "hints", "solution", "base_image"},
		PropertyOrdering: []string{"id", "title", "description", "category", "difficulty", "setup_script", "verification_script", "hints", "solution", "base_image"},
	}
}

// stripCodeFence removes a surrounding ```json fence some models add even
// in JSON mode.
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), "```"))
}
