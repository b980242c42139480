package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/orchd/internal/events"
)

var (
	submitGoal    string
	submitUser    string
	submitContext []string
	submitWait    bool
	resultTimeout time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Submit and inspect agent runs",
}

func init() {
	submitCmd.Flags().StringVar(&submitGoal, "goal", "", "goal to plan and execute (required)")
	submitCmd.Flags().StringVar(&submitUser, "user", "", "user the run executes on behalf of (required)")
	submitCmd.Flags().StringArrayVar(&submitContext, "context", nil, "context entry as key=value (repeatable)")
	submitCmd.Flags().BoolVar(&submitWait, "wait", false, "block until the run finishes and print the result")
	_ = submitCmd.MarkFlagRequired("goal")
	_ = submitCmd.MarkFlagRequired("user")

	resultCmd.Flags().DurationVar(&resultTimeout, "timeout", 0, "give up after this duration (0 waits forever)")

	runCmd.AddCommand(submitCmd)
	runCmd.AddCommand(statusCmd)
	runCmd.AddCommand(eventsCmd)
	runCmd.AddCommand(resultCmd)
	runCmd.AddCommand(cancelCmd)
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a new run",
	Long: `Submit a goal for planning and execution.

Examples:
  # Fire and forget
  orchctl run submit --goal "book a trip to Paris" --user alice

  # With context, waiting for the outcome
  orchctl run submit --goal "book a trip to Paris" --user alice \
    --context budget=2000 --context currency=EUR --wait`,
	RunE: func(cmd *cobra.Command, args []string) error {
		runContext, err := parseContext(submitContext)
		if err != nil {
			return err
		}

		c := newClient(serverURL)
		runID, err := c.submitRun(cmd.Context(), submitGoal, submitUser, runContext)
		if err != nil {
			return err
		}
		cmd.Println(renderSubmitted(runID))

		if !submitWait {
			return nil
		}
		outcome, err := c.runResult(cmd.Context(), runID)
		if err != nil {
			return err
		}
		cmd.Println(renderOutcome(outcome))
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show a run's current state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(serverURL)
		state, err := c.runState(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		cmd.Println(renderState(args[0], state))
		return nil
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events <run-id>",
	Short: "Tail a run's event stream",
	Long: `Stream the run's events: the recorded backlog first, then live
events until the run reaches a terminal event.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(serverURL)
		return c.streamEvents(cmd.Context(), args[0], func(ev events.Event) bool {
			cmd.Println(renderEvent(ev))
			return true
		})
	},
}

var resultCmd = &cobra.Command{
	Use:   "result <run-id>",
	Short: "Wait for and print a run's terminal result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := waitCtx(cmd.Context(), resultTimeout)
		defer cancel()

		c := newClient(serverURL)
		outcome, err := c.runResult(ctx, args[0])
		if err != nil {
			return err
		}
		cmd.Println(renderOutcome(outcome))
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <run-id>",
	Short: "Cancel a run in flight",
	Long: `Request cancellation of a run. Compensations registered for
already-completed steps are rolled back before the run terminates.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(serverURL)
		if err := c.cancelRun(cmd.Context(), args[0]); err != nil {
			return err
		}
		cmd.Printf("cancellation requested for %s\n", args[0])
		return nil
	},
}

// parseContext converts repeated key=value flags into a context map.
func parseContext(entries []string) (map[string]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(entries))
	for _, entry := range entries {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid context entry %q, want key=value", entry)
		}
		out[key] = value
	}
	return out, nil
}
