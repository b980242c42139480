// Package guard evaluates generated plans against operator policy
// before any step executes. Evaluation collects every violation so a
// rejected plan reports the full rule set it broke, not just the first
// match.
package guard

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/zricethezav/gitleaks/v8/detect"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchd/internal/plan"
)

// Request carries everything the policy engine may inspect before a
// plan is released for execution.
type Request struct {
	UserID string
	Goal   string
	PlanID string
	Steps  []plan.Step
}

// Verdict is the engine's decision on a Request. Violations is empty
// when Allowed is true.
type Verdict struct {
	Allowed    bool
	Violations []string
}

// Config declares the rule set an Engine enforces.
type Config struct {
	// DeniedTools refuses plans whose steps or compensations name any
	// of these tools.
	DeniedTools []string

	// DeniedPatterns are regular expressions matched against the goal
	// and each step's rendered input.
	DeniedPatterns []string

	// MaxPlanSteps caps plan size. Zero means unlimited.
	MaxPlanSteps int

	// SecretScan runs gitleaks over the goal and step inputs so
	// credentials never ride along into plan execution.
	SecretScan bool
}

// DefaultConfig enforces secret scanning and nothing else.
func DefaultConfig() Config {
	return Config{SecretScan: true}
}

// Engine is a rule-based plan guard. Safe for concurrent use once
// constructed.
type Engine struct {
	deniedTools map[string]bool
	deniedRegex []*regexp.Regexp
	maxSteps    int
	detector    *detect.Detector
	logger      *zap.Logger
}

// NewEngine compiles the configured rule set. The gitleaks detector
// loads its full default rule catalog here, so construction is
// expensive relative to evaluation.
func NewEngine(cfg Config, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		deniedTools: make(map[string]bool, len(cfg.DeniedTools)),
		maxSteps:    cfg.MaxPlanSteps,
		logger:      logger,
	}
	for _, name := range cfg.DeniedTools {
		e.deniedTools[name] = true
	}
	for _, pattern := range cfg.DeniedPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compiling denied pattern %q: %w", pattern, err)
		}
		e.deniedRegex = append(e.deniedRegex, re)
	}
	if cfg.SecretScan {
		detector, err := detect.NewDetectorDefaultConfig()
		if err != nil {
			return nil, fmt.Errorf("building secret detector: %w", err)
		}
		e.detector = detector
	}

	logger.Info("Plan guard initialized",
		zap.Int("denied_tools", len(e.deniedTools)),
		zap.Int("denied_patterns", len(e.deniedRegex)),
		zap.Int("max_plan_steps", e.maxSteps),
		zap.Bool("secret_scan", e.detector != nil))
	return e, nil
}

// Evaluate checks the request against every rule and returns the full
// violation set. An error means evaluation itself could not run;
// policy denials are reported through the Verdict, never as errors.
func (e *Engine) Evaluate(ctx context.Context, req Request) (Verdict, error) {
	var violations []string
	seen := make(map[string]bool)
	add := func(msg string) {
		if seen[msg] {
			return
		}
		seen[msg] = true
		violations = append(violations, msg)
	}

	if e.maxSteps > 0 && len(req.Steps) > e.maxSteps {
		add(fmt.Sprintf("plan has %d steps, policy limit is %d", len(req.Steps), e.maxSteps))
	}

	for _, re := range e.deniedRegex {
		if re.MatchString(req.Goal) {
			add(fmt.Sprintf("goal matches restricted pattern %s", re))
		}
	}
	e.scanSecrets(add, "goal", req.Goal)

	for _, step := range req.Steps {
		if e.deniedTools[step.Tool] {
			add(fmt.Sprintf("step %s: tool %q is restricted by policy", step.ID, step.Tool))
		}
		if step.Compensation != "" && e.deniedTools[step.Compensation] {
			add(fmt.Sprintf("step %s: compensation %q is restricted by policy", step.ID, step.Compensation))
		}

		rendered, err := renderInputs(step)
		if err != nil {
			return Verdict{}, fmt.Errorf("rendering step %s input: %w", step.ID, err)
		}
		for _, re := range e.deniedRegex {
			if re.MatchString(rendered) {
				add(fmt.Sprintf("step %s: input matches restricted pattern %s", step.ID, re))
			}
		}
		e.scanSecrets(add, fmt.Sprintf("step %s input", step.ID), rendered)
	}

	return Verdict{Allowed: len(violations) == 0, Violations: violations}, nil
}

// scanSecrets reports findings by rule ID only. The matched value must
// never appear in a violation message.
func (e *Engine) scanSecrets(add func(string), source, content string) {
	if e.detector == nil || content == "" {
		return
	}
	for _, f := range e.detector.DetectString(content) {
		add(fmt.Sprintf("%s contains a secret (%s)", source, f.RuleID))
	}
}

// renderInputs flattens a step's input maps to JSON for pattern and
// secret matching. Map keys are sorted by the encoder, so rendering is
// stable across evaluations.
func renderInputs(step plan.Step) (string, error) {
	if len(step.Input) == 0 && len(step.CompensationInput) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(struct {
		Input             map[string]interface{} `json:"input,omitempty"`
		CompensationInput map[string]interface{} `json:"compensation_input,omitempty"`
	}{step.Input, step.CompensationInput})
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
