package workflows

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/converter"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"

	"github.com/fyrsmithlabs/orchd/internal/activities"
	"github.com/fyrsmithlabs/orchd/internal/events"
	"github.com/fyrsmithlabs/orchd/internal/plan"
)

type AgentRunWorkflowTestSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite

	env *testsuite.TestWorkflowEnvironment

	// acts is never invoked; its method values name the activities the
	// workflow schedules, so mocks and workflow resolve the same names.
	acts *activities.Activities
}

func TestAgentRunWorkflowTestSuite(t *testing.T) {
	suite.Run(t, new(AgentRunWorkflowTestSuite))
}

func (s *AgentRunWorkflowTestSuite) SetupTest() {
	s.env = s.NewTestWorkflowEnvironment()
	s.env.RegisterWorkflow(AgentRunWorkflow)
}

func (s *AgentRunWorkflowTestSuite) AfterTest(suiteName, testName string) {
	s.env.AssertExpectations(s.T())
}

// tripInput builds a run request with event publishing off so tests
// only mock the activities they exercise.
func tripInput(goal string) AgentRunInput {
	return AgentRunInput{
		Goal:    goal,
		UserID:  "user-1",
		Options: RunOptions{DisableEventPublish: true},
	}
}

func tripPlan() []plan.Step {
	return []plan.Step{
		{
			ID:    "step_1",
			Tool:  "book_flight",
			Input: map[string]interface{}{"destination": "Paris"},
			Compensation:      "cancel_flight",
			CompensationInput: map[string]interface{}{"booking_id": "{result.booking_id}"},
		},
		{
			ID:        "step_2",
			Tool:      "book_hotel",
			Input:     map[string]interface{}{"city": "Paris"},
			DependsOn: []string{"step_1"},
			Compensation:      "cancel_hotel",
			CompensationInput: map[string]interface{}{"booking_id": "{result.booking_id}"},
		},
	}
}

func (s *AgentRunWorkflowTestSuite) mockCacheMiss() {
	s.env.OnActivity(s.acts.CheckPlanCache, mock.Anything, mock.Anything).
		Return(activities.CacheLookupResult{}, nil)
}

func (s *AgentRunWorkflowTestSuite) mockPlanner(steps []plan.Step) {
	s.env.OnActivity(s.acts.GeneratePlan, mock.Anything, mock.Anything).
		Return(activities.GeneratePlanResult{PlanID: "plan-1", Steps: steps}, nil)
}

func (s *AgentRunWorkflowTestSuite) mockGuardAllow() {
	s.env.OnActivity(s.acts.GuardPlan, mock.Anything, mock.Anything).
		Return(activities.GuardPlanResult{Allowed: true}, nil)
}

func (s *AgentRunWorkflowTestSuite) mockTool(tool string, output map[string]interface{}) {
	s.env.OnActivity(s.acts.ExecuteTool, mock.Anything, mock.MatchedBy(func(in activities.ExecuteToolInput) bool {
		return in.Tool == tool && !in.Compensation
	})).Return(activities.ExecuteToolResult{Output: output}, nil)
}

func (s *AgentRunWorkflowTestSuite) failureDetails(err error) FailureDetails {
	var appErr *temporal.ApplicationError
	s.Require().True(errors.As(err, &appErr), "expected an application error, got %v", err)
	s.Require().True(appErr.HasDetails())
	var details FailureDetails
	s.Require().NoError(appErr.Details(&details))
	return details
}

func (s *AgentRunWorkflowTestSuite) TestCompletesLinearPlan() {
	s.mockCacheMiss()
	s.mockPlanner(tripPlan())
	s.mockGuardAllow()
	s.mockTool("book_flight", map[string]interface{}{"booking_id": "FL-123"})
	s.mockTool("book_hotel", map[string]interface{}{"booking_id": "HT-789"})

	s.env.ExecuteWorkflow(AgentRunWorkflow, tripInput("Book a trip to Paris"))

	s.True(s.env.IsWorkflowCompleted())
	s.Require().NoError(s.env.GetWorkflowError())

	var result AgentRunResult
	s.Require().NoError(s.env.GetWorkflowResult(&result))
	s.Equal(events.StatusCompleted, result.Status)
	s.Equal("plan-1", result.PlanID)
	s.False(result.CacheHit)
	s.Equal(2, result.StepsExecuted)
	s.Equal("FL-123", result.Results["step_1"]["booking_id"])
	s.Equal("HT-789", result.Results["step_2"]["booking_id"])
	s.Equal(0, result.Generation)

	// Derived state is queryable after the run finishes.
	val, err := s.env.QueryWorkflow(QueryRunState)
	s.Require().NoError(err)
	var state events.RunState
	s.Require().NoError(val.Get(&state))
	s.Equal(events.StatusCompleted, state.Status)
	s.Equal([]string{"step_1", "step_2"}, state.CompletedSteps)

	// goal, plan, two request/result pairs, completion.
	val, err = s.env.QueryWorkflow(QueryRunEvents, 0)
	s.Require().NoError(err)
	var evs []events.Event
	s.Require().NoError(val.Get(&evs))
	s.Require().Len(evs, 7)
	s.Equal(events.TypeGoalReceived, evs[0].Type)
	s.Equal(events.TypeWorkflowCompleted, evs[6].Type)
}

func (s *AgentRunWorkflowTestSuite) TestCacheHitSkipsPlanner() {
	s.env.OnActivity(s.acts.CheckPlanCache, mock.Anything, mock.Anything).
		Return(activities.CacheLookupResult{
			Hit:        true,
			PlanID:     "plan-cached-1",
			TemplateID: "tpl-trip-v1",
			Steps:      tripPlan(),
			Similarity: 0.94,
		}, nil)
	s.mockGuardAllow()
	s.mockTool("book_flight", map[string]interface{}{"booking_id": "FL-123"})
	s.mockTool("book_hotel", map[string]interface{}{"booking_id": "HT-789"})
	// GeneratePlan is deliberately not mocked: calling it fails the test.

	s.env.ExecuteWorkflow(AgentRunWorkflow, tripInput("Book a trip to Paris next week"))

	s.True(s.env.IsWorkflowCompleted())
	s.Require().NoError(s.env.GetWorkflowError())

	var result AgentRunResult
	s.Require().NoError(s.env.GetWorkflowResult(&result))
	s.True(result.CacheHit)
	s.Equal("tpl-trip-v1", result.TemplateID)
	s.Equal("plan-cached-1", result.PlanID)
	s.Equal(2, result.StepsExecuted)
}

func (s *AgentRunWorkflowTestSuite) TestCacheLookupErrorDegradesToMiss() {
	s.env.OnActivity(s.acts.CheckPlanCache, mock.Anything, mock.Anything).
		Return(activities.CacheLookupResult{}, temporal.NewNonRetryableApplicationError("vector store unavailable", "CacheFailure", nil))
	s.mockPlanner(tripPlan()[:1])
	s.mockGuardAllow()
	s.mockTool("book_flight", map[string]interface{}{"booking_id": "FL-123"})

	s.env.ExecuteWorkflow(AgentRunWorkflow, tripInput("Book a flight to Paris"))

	s.True(s.env.IsWorkflowCompleted())
	s.Require().NoError(s.env.GetWorkflowError())

	var result AgentRunResult
	s.Require().NoError(s.env.GetWorkflowResult(&result))
	s.False(result.CacheHit)
	s.Equal(1, result.StepsExecuted)
}

func (s *AgentRunWorkflowTestSuite) TestStepFailureRollsBackWithResolvedInputs() {
	s.mockCacheMiss()
	s.mockPlanner(tripPlan())
	s.mockGuardAllow()
	s.mockTool("book_flight", map[string]interface{}{"booking_id": "FL-123"})
	s.env.OnActivity(s.acts.ExecuteTool, mock.Anything, mock.MatchedBy(func(in activities.ExecuteToolInput) bool {
		return in.Tool == "book_hotel" && !in.Compensation
	})).Return(activities.ExecuteToolResult{}, temporal.NewNonRetryableApplicationError("no rooms available", activities.ErrTypeToolFailure, nil))

	// The compensation must arrive with the placeholder already
	// resolved against book_flight's recorded result.
	s.env.OnActivity(s.acts.ExecuteTool, mock.Anything, mock.MatchedBy(func(in activities.ExecuteToolInput) bool {
		return in.Compensation && in.Tool == "cancel_flight" && in.Input["booking_id"] == "FL-123"
	})).Return(activities.ExecuteToolResult{Output: map[string]interface{}{"cancelled": true}}, nil).Once()

	s.env.ExecuteWorkflow(AgentRunWorkflow, tripInput("Book a trip to Paris"))

	s.True(s.env.IsWorkflowCompleted())
	err := s.env.GetWorkflowError()
	s.Require().Error(err)

	var appErr *temporal.ApplicationError
	s.Require().True(errors.As(err, &appErr))
	s.Equal(ErrTypeRunFailed, appErr.Type())

	details := s.failureDetails(err)
	s.Equal("step_2", details.FailedStepID)
	s.Equal("no rooms available", details.ErrorMessage)
	s.Equal(1, details.StepsExecuted)
	s.True(details.CompensationExecuted)
	s.Require().Len(details.CompensationResults, 1)
	s.Equal("step_1", details.CompensationResults[0].StepID)
	s.Equal("cancel_flight", details.CompensationResults[0].Tool)
	s.True(details.CompensationResults[0].Success)

	val, err := s.env.QueryWorkflow(QueryRunState)
	s.Require().NoError(err)
	var state events.RunState
	s.Require().NoError(val.Get(&state))
	s.Equal(events.StatusFailed, state.Status)
	s.Equal("step_2", state.FailedStepID)
	s.True(state.CompensationExecuted)
}

func (s *AgentRunWorkflowTestSuite) TestFailedCompensationDoesNotStopRollback() {
	steps := []plan.Step{
		{ID: "step_1", Tool: "reserve_car", Compensation: "release_car"},
		{ID: "step_2", Tool: "reserve_driver", DependsOn: []string{"step_1"}, Compensation: "release_driver"},
		{ID: "step_3", Tool: "charge_card", DependsOn: []string{"step_2"}},
	}
	s.mockCacheMiss()
	s.mockPlanner(steps)
	s.mockGuardAllow()
	s.mockTool("reserve_car", map[string]interface{}{"ok": true})
	s.mockTool("reserve_driver", map[string]interface{}{"ok": true})
	s.env.OnActivity(s.acts.ExecuteTool, mock.Anything, mock.MatchedBy(func(in activities.ExecuteToolInput) bool {
		return in.Tool == "charge_card"
	})).Return(activities.ExecuteToolResult{}, temporal.NewNonRetryableApplicationError("card declined", activities.ErrTypeToolFailure, nil))
	s.env.OnActivity(s.acts.ExecuteTool, mock.Anything, mock.MatchedBy(func(in activities.ExecuteToolInput) bool {
		return in.Compensation && in.Tool == "release_driver"
	})).Return(activities.ExecuteToolResult{}, temporal.NewNonRetryableApplicationError("driver already released", activities.ErrTypeToolFailure, nil)).Once()
	s.env.OnActivity(s.acts.ExecuteTool, mock.Anything, mock.MatchedBy(func(in activities.ExecuteToolInput) bool {
		return in.Compensation && in.Tool == "release_car"
	})).Return(activities.ExecuteToolResult{Output: map[string]interface{}{"ok": true}}, nil).Once()

	s.env.ExecuteWorkflow(AgentRunWorkflow, tripInput("Arrange a chauffeur"))

	err := s.env.GetWorkflowError()
	s.Require().Error(err)

	details := s.failureDetails(err)
	s.Equal("step_3", details.FailedStepID)
	s.Require().Len(details.CompensationResults, 2)
	// Reverse completion order, and the failed compensation is tagged,
	// not dropped.
	s.Equal("step_2", details.CompensationResults[0].StepID)
	s.False(details.CompensationResults[0].Success)
	s.Contains(details.CompensationResults[0].Error, "driver already released")
	s.Equal("step_1", details.CompensationResults[1].StepID)
	s.True(details.CompensationResults[1].Success)
}

func (s *AgentRunWorkflowTestSuite) TestPlanningFailureFailsRunBeforeSteps() {
	s.mockCacheMiss()
	s.env.OnActivity(s.acts.GeneratePlan, mock.Anything, mock.Anything).
		Return(activities.GeneratePlanResult{}, temporal.NewNonRetryableApplicationError("model refused", "PlannerFailure", nil))

	s.env.ExecuteWorkflow(AgentRunWorkflow, tripInput("Book a trip to Paris"))

	err := s.env.GetWorkflowError()
	s.Require().Error(err)

	var appErr *temporal.ApplicationError
	s.Require().True(errors.As(err, &appErr))
	s.Equal(ErrTypePlanningFailed, appErr.Type())

	details := s.failureDetails(err)
	s.Contains(details.ErrorMessage, "plan generation failed")
	s.Contains(details.ErrorMessage, "model refused")
	s.Empty(details.FailedStepID)
	s.Equal(0, details.StepsExecuted)
	s.True(details.CompensationExecuted)
	s.Empty(details.CompensationResults)
}

func (s *AgentRunWorkflowTestSuite) TestUnusablePlanFailsRun() {
	s.mockCacheMiss()
	s.mockPlanner([]plan.Step{
		{ID: "step_1", Tool: "book_flight", DependsOn: []string{"missing"}},
	})

	s.env.ExecuteWorkflow(AgentRunWorkflow, tripInput("Book a trip to Paris"))

	err := s.env.GetWorkflowError()
	s.Require().Error(err)

	var appErr *temporal.ApplicationError
	s.Require().True(errors.As(err, &appErr))
	s.Equal(ErrTypePlanningFailed, appErr.Type())
	s.Contains(s.failureDetails(err).ErrorMessage, "unusable plan")
}

func (s *AgentRunWorkflowTestSuite) TestGuardRejectionFailsRunBeforeSteps() {
	s.mockCacheMiss()
	s.mockPlanner(tripPlan())
	s.env.OnActivity(s.acts.GuardPlan, mock.Anything, mock.Anything).
		Return(activities.GuardPlanResult{Allowed: false, Violations: []string{"tool book_hotel is denied for user-1"}}, nil)

	s.env.ExecuteWorkflow(AgentRunWorkflow, tripInput("Book a trip to Paris"))

	err := s.env.GetWorkflowError()
	s.Require().Error(err)

	var appErr *temporal.ApplicationError
	s.Require().True(errors.As(err, &appErr))
	s.Equal(ErrTypePlanRejected, appErr.Type())

	details := s.failureDetails(err)
	s.Contains(details.ErrorMessage, "book_hotel is denied")
	s.Equal(0, details.StepsExecuted)
	s.Empty(details.CompensationResults)
}

func (s *AgentRunWorkflowTestSuite) TestGuardUnavailableFailsClosed() {
	s.mockCacheMiss()
	s.mockPlanner(tripPlan())
	s.env.OnActivity(s.acts.GuardPlan, mock.Anything, mock.Anything).
		Return(activities.GuardPlanResult{}, temporal.NewNonRetryableApplicationError("policy store unreachable", "GuardFailure", nil))

	s.env.ExecuteWorkflow(AgentRunWorkflow, tripInput("Book a trip to Paris"))

	err := s.env.GetWorkflowError()
	s.Require().Error(err)

	var appErr *temporal.ApplicationError
	s.Require().True(errors.As(err, &appErr))
	s.Equal(ErrTypePlanRejected, appErr.Type())
	msg := s.failureDetails(err).ErrorMessage
	s.Contains(msg, "plan guard unavailable")
	s.Contains(msg, "policy store unreachable")
}

func (s *AgentRunWorkflowTestSuite) TestGuardSkippedWhenDisabled() {
	s.mockCacheMiss()
	s.mockPlanner(tripPlan()[:1])
	s.mockTool("book_flight", map[string]interface{}{"booking_id": "FL-123"})
	// GuardPlan is not mocked: calling it fails the test.

	in := tripInput("Book a flight")
	in.Options.DisableGuard = true
	s.env.ExecuteWorkflow(AgentRunWorkflow, in)

	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
}

func (s *AgentRunWorkflowTestSuite) TestParallelRollbackFollowsCompletionOrder() {
	steps := []plan.Step{
		{ID: "step_a", Tool: "fetch_a", Compensation: "cancel_a"},
		{ID: "step_b", Tool: "fetch_b", Compensation: "cancel_b"},
		{ID: "step_merge", Tool: "merge", DependsOn: []string{"step_a", "step_b"}},
	}
	s.mockCacheMiss()
	s.mockPlanner(steps)
	s.mockGuardAllow()

	// fetch_a finishes before fetch_b, so rollback must run cancel_b
	// first even though step_a was dispatched first.
	s.env.OnActivity(s.acts.ExecuteTool, mock.Anything, mock.MatchedBy(func(in activities.ExecuteToolInput) bool {
		return in.Tool == "fetch_a"
	})).After(time.Second).Return(activities.ExecuteToolResult{Output: map[string]interface{}{"ok": true}}, nil)
	s.env.OnActivity(s.acts.ExecuteTool, mock.Anything, mock.MatchedBy(func(in activities.ExecuteToolInput) bool {
		return in.Tool == "fetch_b"
	})).After(3*time.Second).Return(activities.ExecuteToolResult{Output: map[string]interface{}{"ok": true}}, nil)
	s.env.OnActivity(s.acts.ExecuteTool, mock.Anything, mock.MatchedBy(func(in activities.ExecuteToolInput) bool {
		return in.Tool == "merge"
	})).Return(activities.ExecuteToolResult{}, temporal.NewNonRetryableApplicationError("merge conflict", activities.ErrTypeToolFailure, nil))
	s.env.OnActivity(s.acts.ExecuteTool, mock.Anything, mock.MatchedBy(func(in activities.ExecuteToolInput) bool {
		return in.Compensation
	})).Return(activities.ExecuteToolResult{Output: map[string]interface{}{"ok": true}}, nil)

	in := tripInput("Merge two datasets")
	in.Options.MaxConcurrentSteps = 2
	s.env.ExecuteWorkflow(AgentRunWorkflow, in)

	err := s.env.GetWorkflowError()
	s.Require().Error(err)

	details := s.failureDetails(err)
	s.Equal("step_merge", details.FailedStepID)
	s.Equal(2, details.StepsExecuted)
	s.Require().Len(details.CompensationResults, 2)
	s.Equal("step_b", details.CompensationResults[0].StepID)
	s.Equal("step_a", details.CompensationResults[1].StepID)
}

func (s *AgentRunWorkflowTestSuite) TestCancellationRollsBackCompletedSteps() {
	steps := []plan.Step{
		{ID: "step_1", Tool: "charge_card", Compensation: "refund_card", CompensationInput: map[string]interface{}{"charge_id": "{result.charge_id}"}},
		{ID: "step_2", Tool: "ship_order", DependsOn: []string{"step_1"}},
	}
	s.mockCacheMiss()
	s.mockPlanner(steps)
	s.mockGuardAllow()
	s.mockTool("charge_card", map[string]interface{}{"charge_id": "CH-1"})
	s.env.OnActivity(s.acts.ExecuteTool, mock.Anything, mock.MatchedBy(func(in activities.ExecuteToolInput) bool {
		return in.Tool == "ship_order"
	})).After(time.Hour).Return(activities.ExecuteToolResult{Output: map[string]interface{}{"ok": true}}, nil)
	s.env.OnActivity(s.acts.ExecuteTool, mock.Anything, mock.MatchedBy(func(in activities.ExecuteToolInput) bool {
		return in.Compensation && in.Tool == "refund_card" && in.Input["charge_id"] == "CH-1"
	})).Return(activities.ExecuteToolResult{Output: map[string]interface{}{"refunded": true}}, nil).Once()

	s.env.RegisterDelayedCallback(func() {
		s.env.CancelWorkflow()
	}, 5*time.Minute)

	s.env.ExecuteWorkflow(AgentRunWorkflow, tripInput("Order a laptop"))

	s.True(s.env.IsWorkflowCompleted())
	err := s.env.GetWorkflowError()
	s.Require().Error(err)
	s.True(temporal.IsCanceledError(err))

	var canceled *temporal.CanceledError
	s.Require().True(errors.As(err, &canceled))
	s.Require().True(canceled.HasDetails())
	var details FailureDetails
	s.Require().NoError(canceled.Details(&details))
	s.True(details.CompensationExecuted)
	s.Require().Len(details.CompensationResults, 1)
	s.Equal("step_1", details.CompensationResults[0].StepID)
	s.Equal("refund_card", details.CompensationResults[0].Tool)
}

func (s *AgentRunWorkflowTestSuite) TestCheckpointCutsOverAndResumes() {
	steps := []plan.Step{
		{ID: "step_1", Tool: "stage_1", Compensation: "undo_1"},
		{ID: "step_2", Tool: "stage_2", DependsOn: []string{"step_1"}, Compensation: "undo_2"},
		{ID: "step_3", Tool: "stage_3", DependsOn: []string{"step_2"}, Compensation: "undo_3"},
		{ID: "step_4", Tool: "stage_4", DependsOn: []string{"step_3"}},
		{ID: "step_5", Tool: "stage_5", DependsOn: []string{"step_4"}},
	}
	s.mockCacheMiss()
	s.mockPlanner(steps)
	s.mockGuardAllow()
	s.env.OnActivity(s.acts.ExecuteTool, mock.Anything, mock.Anything).
		Return(activities.ExecuteToolResult{Output: map[string]interface{}{"ok": true}}, nil)

	in := tripInput("Run the pipeline")
	// goal + plan + three request/result pairs reach the threshold at
	// step_3's result, with step_4 and step_5 still pending.
	in.Options.CheckpointMaxEvents = 8
	s.env.ExecuteWorkflow(AgentRunWorkflow, in)

	s.True(s.env.IsWorkflowCompleted())
	err := s.env.GetWorkflowError()
	s.Require().Error(err)

	var cont *workflow.ContinueAsNewError
	s.Require().True(errors.As(err, &cont), "expected continue-as-new, got %v", err)
	s.Equal(AgentRunWorkflowName, cont.WorkflowType.Name)

	var next AgentRunInput
	s.Require().NoError(converter.GetDefaultDataConverter().FromPayloads(cont.Input, &next))
	s.Require().NotNil(next.Resume)
	s.Equal(1, next.Resume.Generation)
	s.Equal(8, next.Resume.PriorEvents)
	s.Equal([]string{"step_1", "step_2", "step_3"}, next.Resume.Snapshot.CompletedSteps)
	s.Equal(events.StatusRunning, next.Resume.Snapshot.Status)
	s.Len(next.Resume.Saga.Entries, 3)
	s.False(next.Resume.Saga.RolledBack)

	// The successor history finishes the remaining steps from the
	// snapshot without replanning.
	env2 := s.NewTestWorkflowEnvironment()
	env2.RegisterWorkflow(AgentRunWorkflow)
	env2.OnActivity(s.acts.ExecuteTool, mock.Anything, mock.Anything).
		Return(activities.ExecuteToolResult{Output: map[string]interface{}{"ok": true}}, nil)

	env2.ExecuteWorkflow(AgentRunWorkflow, next)

	s.True(env2.IsWorkflowCompleted())
	s.Require().NoError(env2.GetWorkflowError())

	var result AgentRunResult
	s.Require().NoError(env2.GetWorkflowResult(&result))
	s.Equal(events.StatusCompleted, result.Status)
	s.Equal(5, result.StepsExecuted)
	s.Equal(1, result.Generation)
	// 8 events in the first history, then resume + two request/result
	// pairs + completion in the second.
	s.Equal(14, result.TotalEvents)
}

func (s *AgentRunWorkflowTestSuite) TestCheckpointFiresOnlyOnceAcrossThreshold() {
	// Nine independent steps, three in flight: the threshold is crossed
	// while two steps are still running, so their results land past it.
	// Exactly one cutover must result, and the in-flight successes must
	// reach the snapshot and the compensation stack before it.
	var steps []plan.Step
	for i := 1; i <= 9; i++ {
		steps = append(steps, plan.Step{
			ID:           fmt.Sprintf("step_%d", i),
			Tool:         "stage",
			Compensation: "undo",
		})
	}
	s.mockCacheMiss()
	s.mockPlanner(steps)
	s.mockGuardAllow()
	s.env.OnActivity(s.acts.ExecuteTool, mock.Anything, mock.Anything).
		Return(activities.ExecuteToolResult{Output: map[string]interface{}{"ok": true}}, nil)

	in := tripInput("Run the long pipeline")
	in.Options.CheckpointMaxEvents = 8
	in.Options.MaxConcurrentSteps = 3
	s.env.ExecuteWorkflow(AgentRunWorkflow, in)

	err := s.env.GetWorkflowError()
	s.Require().Error(err)

	var cont *workflow.ContinueAsNewError
	s.Require().True(errors.As(err, &cont))

	var next AgentRunInput
	s.Require().NoError(converter.GetDefaultDataConverter().FromPayloads(cont.Input, &next))
	s.Require().NotNil(next.Resume)
	s.Equal(1, next.Resume.Generation)
	// Crossing at event 8 = second step result; one step was dispatched
	// after the first result, so two steps were in flight at the
	// crossing and drained to events 9 and 10.
	s.Equal(10, next.Resume.PriorEvents)
	s.Len(next.Resume.Snapshot.CompletedSteps, 4)
	s.Len(next.Resume.Saga.Entries, 4)
}

func (s *AgentRunWorkflowTestSuite) TestRejectsMissingGoal() {
	s.env.ExecuteWorkflow(AgentRunWorkflow, AgentRunInput{UserID: "user-1"})

	err := s.env.GetWorkflowError()
	s.Require().Error(err)

	var appErr *temporal.ApplicationError
	s.Require().True(errors.As(err, &appErr))
	s.Equal(ErrTypeInvalidInput, appErr.Type())
}

func (s *AgentRunWorkflowTestSuite) TestRejectsInvalidOptions() {
	in := tripInput("Book a trip")
	in.Options.MaxConcurrentSteps = -2

	s.env.ExecuteWorkflow(AgentRunWorkflow, in)

	err := s.env.GetWorkflowError()
	s.Require().Error(err)

	var appErr *temporal.ApplicationError
	s.Require().True(errors.As(err, &appErr))
	s.Equal(ErrTypeInvalidInput, appErr.Type())
}

func (s *AgentRunWorkflowTestSuite) TestPublishesEventBatchesInOrder() {
	var batches []activities.PublishEventsInput
	s.mockCacheMiss()
	s.mockPlanner(tripPlan()[:1])
	s.mockGuardAllow()
	s.mockTool("book_flight", map[string]interface{}{"booking_id": "FL-123"})
	s.env.OnActivity(s.acts.PublishRunEvents, mock.Anything, mock.Anything).
		Return(func(ctx context.Context, in activities.PublishEventsInput) error {
			batches = append(batches, in)
			return nil
		})

	in := tripInput("Book a flight")
	in.Options.DisableEventPublish = false
	s.env.ExecuteWorkflow(AgentRunWorkflow, in)

	s.Require().NoError(s.env.GetWorkflowError())
	s.Require().NotEmpty(batches)

	// Batches cover the whole log contiguously, in order.
	seq := 0
	for _, b := range batches {
		for _, ev := range b.Events {
			seq++
			s.Equal(seq, ev.Seq)
		}
	}
	last := batches[len(batches)-1]
	s.Equal(events.TypeWorkflowCompleted, last.Events[len(last.Events)-1].Type)
}

func (s *AgentRunWorkflowTestSuite) TestPublishFailureDoesNotFailRun() {
	s.mockCacheMiss()
	s.mockPlanner(tripPlan()[:1])
	s.mockGuardAllow()
	s.mockTool("book_flight", map[string]interface{}{"booking_id": "FL-123"})
	s.env.OnActivity(s.acts.PublishRunEvents, mock.Anything, mock.Anything).
		Return(temporal.NewNonRetryableApplicationError("broker down", "PublishFailure", nil))

	in := tripInput("Book a flight")
	in.Options.DisableEventPublish = false
	s.env.ExecuteWorkflow(AgentRunWorkflow, in)

	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
}
