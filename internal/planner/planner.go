// Package planner turns natural-language goals into executable plans
// via an OpenAI-compatible chat model. The model is asked to call a
// submit_plan function so the plan arrives as structured arguments
// rather than free text.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchd/internal/plan"
	"github.com/fyrsmithlabs/orchd/internal/tools"
)

const submitPlanName = "submit_plan"

// Config configures the OpenAI-compatible planning model.
type Config struct {
	// BaseURL of the chat API. Empty uses the OpenAI default.
	BaseURL string

	// Model name, e.g. gpt-4o-mini or a local vLLM model.
	Model string

	// APIKey is required for OpenAI, optional for local servers.
	APIKey string

	// Temperature for plan generation. Zero keeps plans repeatable.
	Temperature float64
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("planner: model required")
	}
	return nil
}

// ToolSource lists the tools a plan may use. *tools.Registry
// satisfies this.
type ToolSource interface {
	List() []tools.Definition
}

// Planner generates plans for goals against the current tool catalog.
type Planner struct {
	model       llms.Model
	source      ToolSource
	temperature float64
	logger      *zap.Logger
}

// New builds a Planner backed by an OpenAI-compatible endpoint.
func New(cfg Config, source ToolSource, logger *zap.Logger) (*Planner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// langchaingo requires a token even for keyless local servers.
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "placeholder"
	}
	opts := []openai.Option{
		openai.WithModel(cfg.Model),
		openai.WithToken(apiKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating planner client: %w", err)
	}
	return NewWithModel(llm, cfg.Temperature, source, logger)
}

// NewWithModel builds a Planner around an existing model. Tests and
// alternative providers enter here.
func NewWithModel(model llms.Model, temperature float64, source ToolSource, logger *zap.Logger) (*Planner, error) {
	if model == nil {
		return nil, fmt.Errorf("planner: model is required")
	}
	if source == nil {
		return nil, fmt.Errorf("planner: tool source is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{
		model:       model,
		source:      source,
		temperature: temperature,
		logger:      logger,
	}, nil
}

// GeneratePlan asks the model to decompose the goal into steps over
// the registered tools, then validates the result. Malformed or
// invalid plans return an error so callers can retry generation.
func (p *Planner) GeneratePlan(ctx context.Context, goal string, runContext map[string]string) (plan.Plan, error) {
	messages := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(p.systemPrompt())},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(renderGoal(goal, runContext))},
		},
	}

	resp, err := p.model.GenerateContent(ctx, messages,
		llms.WithTools(plannerTools()),
		llms.WithTemperature(p.temperature))
	if err != nil {
		return plan.Plan{}, fmt.Errorf("generating plan: %w", err)
	}
	if len(resp.Choices) == 0 {
		return plan.Plan{}, fmt.Errorf("planner returned no choices")
	}

	steps, err := stepsFromChoice(resp.Choices[0])
	if err != nil {
		return plan.Plan{}, err
	}

	generated := plan.Plan{ID: uuid.NewString(), Steps: steps}
	if err := plan.Validate(generated); err != nil {
		return plan.Plan{}, fmt.Errorf("validating generated plan: %w", err)
	}

	p.logger.Info("Plan generated",
		zap.String("plan_id", generated.ID),
		zap.Int("steps", len(generated.Steps)))
	return generated, nil
}

// systemPrompt renders the planning instructions plus the live tool
// catalog, so disabled or hot-swapped tools drop out of reach on the
// next generation.
func (p *Planner) systemPrompt() string {
	var b strings.Builder
	b.WriteString(`You are the planning component of a durable task orchestrator.
Decompose the user's goal into discrete tool invocations.

Rules:
- Use only the tools listed below; never invent tool names.
- Give each step a unique id of the form step_1, step_2, ...
- Declare ordering in depends_on using step ids. Steps with no
  dependency between them may run in parallel.
- For every step whose tool lists a compensation, set "compensation"
  to that tool and provide "compensation_input". Values of the form
  "{result.FIELD}" resolve from the step's own result at runtime.
- Keep the plan minimal: no steps beyond what the goal requires.
- Submit the finished plan by calling the submit_plan function.

Available tools:
`)
	for _, def := range p.source.List() {
		fmt.Fprintf(&b, "- %s: %s", def.Name, def.Description)
		if len(def.Required) > 0 {
			fmt.Fprintf(&b, " (required input: %s)", strings.Join(def.Required, ", "))
		}
		if def.Compensation != "" {
			fmt.Fprintf(&b, " [compensation: %s]", def.Compensation)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func renderGoal(goal string, runContext map[string]string) string {
	if len(runContext) == 0 {
		return "Goal: " + goal
	}
	keys := make([]string, 0, len(runContext))
	for k := range runContext {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("Goal: ")
	b.WriteString(goal)
	b.WriteString("\n\nContext:\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %s\n", k, runContext[k])
	}
	return b.String()
}

// plannerTools declares the submit_plan function the model must call.
func plannerTools() []llms.Tool {
	stepSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id":   map[string]any{"type": "string"},
			"tool": map[string]any{"type": "string"},
			"input": map[string]any{
				"type": "object",
			},
			"depends_on": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"compensation": map[string]any{"type": "string"},
			"compensation_input": map[string]any{
				"type": "object",
			},
		},
		"required": []string{"id", "tool"},
	}

	return []llms.Tool{{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        submitPlanName,
			Description: "Submit the structured plan for the user's goal.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"steps": map[string]any{
						"type":  "array",
						"items": stepSchema,
					},
				},
				"required": []string{"steps"},
			},
		},
	}}
}

// stepsFromChoice prefers the submit_plan call and falls back to plan
// JSON in the message body for servers without tool support.
func stepsFromChoice(choice *llms.ContentChoice) ([]plan.Step, error) {
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil || tc.FunctionCall.Name != submitPlanName {
			continue
		}
		return decodeSteps(tc.FunctionCall.Arguments)
	}
	if content := strings.TrimSpace(choice.Content); content != "" {
		return decodeSteps(stripFences(content))
	}
	return nil, fmt.Errorf("planner returned neither a %s call nor plan JSON", submitPlanName)
}

func decodeSteps(raw string) ([]plan.Step, error) {
	raw = strings.TrimSpace(raw)

	var envelope struct {
		Steps []plan.Step `json:"steps"`
	}
	if err := json.Unmarshal([]byte(raw), &envelope); err == nil && len(envelope.Steps) > 0 {
		return envelope.Steps, nil
	}

	var steps []plan.Step
	if err := json.Unmarshal([]byte(raw), &steps); err == nil && len(steps) > 0 {
		return steps, nil
	}
	return nil, fmt.Errorf("decoding plan steps: unrecognized payload")
}

func stripFences(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	if i := strings.LastIndex(content, "```"); i >= 0 {
		content = content[:i]
	}
	return strings.TrimSpace(content)
}
