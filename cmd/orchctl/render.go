package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/orchd/internal/events"
	"github.com/fyrsmithlabs/orchd/internal/gateway"
)

var (
	labelStyle   = lipgloss.NewStyle().Bold(true).Width(14)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	eventStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Width(22)
)

func statusStyle(status events.Status) lipgloss.Style {
	switch status {
	case events.StatusCompleted:
		return okStyle
	case events.StatusFailed:
		return failStyle
	default:
		return pendingStyle
	}
}

func renderHealth(status string) string {
	if status == "ok" {
		return okStyle.Render("gateway healthy")
	}
	return failStyle.Render("gateway unhealthy: " + status)
}

func renderSubmitted(runID string) string {
	var b strings.Builder
	b.WriteString(labelStyle.Render("Run ID") + runID + "\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("  orchctl run status %s", runID)))
	return b.String()
}

func renderState(runID string, state events.RunState) string {
	var b strings.Builder
	row := func(label, value string) {
		b.WriteString(labelStyle.Render(label) + value + "\n")
	}

	row("Run ID", runID)
	row("Status", statusStyle(state.Status).Render(string(state.Status)))
	row("Goal", state.Goal)
	row("User", state.UserID)
	if state.PlanID != "" {
		plan := state.PlanID
		if state.CacheHit {
			plan += dimStyle.Render(fmt.Sprintf(" (cache hit, template %s)", state.TemplateID))
		}
		row("Plan", plan)
		row("Steps", fmt.Sprintf("%d/%d completed", state.StepsExecuted(), len(state.Steps)))
	}
	if state.FailedStepID != "" {
		row("Failed step", failStyle.Render(state.FailedStepID))
		row("Error", state.Error)
	}
	if state.Generation > 0 {
		row("Checkpoints", fmt.Sprintf("generation %d, %d prior events", state.Generation, state.PriorEvents))
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderOutcome(outcome gateway.RunOutcome) string {
	var b strings.Builder
	row := func(label, value string) {
		b.WriteString(labelStyle.Render(label) + value + "\n")
	}

	row("Run ID", outcome.RunID)
	switch {
	case outcome.Result != nil:
		r := outcome.Result
		row("Status", okStyle.Render(outcome.Status))
		row("Plan", r.PlanID)
		row("Steps", fmt.Sprintf("%d executed", r.StepsExecuted))
		row("Duration", fmt.Sprintf("%.1fs", r.DurationSeconds))
		if len(r.Results) > 0 {
			b.WriteString(labelStyle.Render("Results") + "\n")
			for stepID, result := range r.Results {
				b.WriteString(fmt.Sprintf("  %s: %s\n", stepID, compactJSON(result)))
			}
		}

	case outcome.Failure != nil:
		f := outcome.Failure
		row("Status", failStyle.Render(outcome.Status))
		row("Failed step", f.FailedStepID)
		row("Error", f.ErrorMessage)
		row("Steps", fmt.Sprintf("%d executed before failure", f.StepsExecuted))
		if len(f.CompensationResults) > 0 {
			b.WriteString(labelStyle.Render("Rollback") + "\n")
			for _, cr := range f.CompensationResults {
				mark := okStyle.Render("ok")
				detail := compactJSON(cr.Result)
				if !cr.Success {
					mark = failStyle.Render("failed")
					detail = cr.Error
				}
				b.WriteString(fmt.Sprintf("  %s %s (%s) %s\n", cr.Tool, mark, cr.StepID, dimStyle.Render(detail)))
			}
		}

	default:
		row("Status", statusStyle(events.Status(outcome.Status)).Render(outcome.Status))
		if outcome.Error != "" {
			row("Error", outcome.Error)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderEvent(ev events.Event) string {
	detail := ""
	switch ev.Type {
	case events.TypeGoalReceived:
		detail = ev.GoalReceived.Goal
	case events.TypePlanGenerated:
		p := ev.PlanGenerated
		detail = fmt.Sprintf("plan %s, %d steps", p.PlanID, len(p.Steps))
		if p.CacheHit {
			detail += fmt.Sprintf(" (cache hit, template %s)", p.TemplateID)
		}
	case events.TypeToolCallRequested:
		p := ev.ToolCallRequested
		detail = fmt.Sprintf("%s → %s", p.StepID, p.ToolName)
	case events.TypeToolResultReceived:
		p := ev.ToolResultReceived
		if p.Success {
			detail = fmt.Sprintf("%s %s", p.StepID, okStyle.Render("ok"))
		} else {
			detail = fmt.Sprintf("%s %s: %s", p.StepID, failStyle.Render("failed"), p.Error)
		}
	case events.TypeWorkflowCompleted:
		p := ev.WorkflowCompleted
		detail = okStyle.Render(fmt.Sprintf("%d steps in %.1fs", p.TotalSteps, p.DurationSeconds))
	case events.TypeWorkflowFailed:
		p := ev.WorkflowFailed
		detail = failStyle.Render(fmt.Sprintf("step %s: %s", p.FailedStepID, p.ErrorMessage))
	case events.TypeRunResumed:
		p := ev.RunResumed
		detail = fmt.Sprintf("generation %d, %d prior events", p.Generation, p.PriorEvents)
	}
	return fmt.Sprintf("%s %s %s",
		dimStyle.Render(fmt.Sprintf("%4d", ev.Seq)),
		eventStyle.Render(string(ev.Type)),
		detail)
}

func compactJSON(v interface{}) string {
	if v == nil {
		return "{}"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
