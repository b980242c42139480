package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// RegisterBuiltins installs the simulated travel toolset. The handlers
// honor a "simulate" input field so demos and integration tests can
// force outcomes: "unavailable" fails permanently, "flaky" fails
// retryably.
func RegisterBuiltins(reg *Registry) error {
	builtins := []Definition{
		{
			Name:         "book_flight",
			Description:  "Book a flight to a destination. Returns a booking_id.",
			Compensation: "cancel_flight",
			Required:     []string{"destination"},
			Handler:      bookHandler("book_flight", "FL", "no seats available"),
		},
		{
			Name:        "cancel_flight",
			Description: "Cancel a flight booking by booking_id.",
			Required:    []string{"booking_id"},
			Handler:     cancelHandler("cancel_flight"),
		},
		{
			Name:         "book_hotel",
			Description:  "Book a hotel in a city. Returns a booking_id.",
			Compensation: "cancel_hotel",
			Required:     []string{"city"},
			Handler:      bookHandler("book_hotel", "HT", "no rooms available"),
		},
		{
			Name:        "cancel_hotel",
			Description: "Cancel a hotel booking by booking_id.",
			Required:    []string{"booking_id"},
			Handler:     cancelHandler("cancel_hotel"),
		},
		{
			Name:         "reserve_taxi",
			Description:  "Reserve a taxi pickup. Returns a booking_id.",
			Compensation: "cancel_taxi",
			Required:     []string{"pickup"},
			Handler:      bookHandler("reserve_taxi", "TX", "no drivers available"),
		},
		{
			Name:        "cancel_taxi",
			Description: "Cancel a taxi reservation by booking_id.",
			Required:    []string{"booking_id"},
			Handler:     cancelHandler("cancel_taxi"),
		},
		{
			Name:        "notify_user",
			Description: "Send a notification message to the user.",
			Required:    []string{"message"},
			Handler: func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
				if err := simulated("notify_user", input); err != nil {
					return nil, err
				}
				return map[string]interface{}{"delivered": true}, nil
			},
		},
	}

	for _, def := range builtins {
		if err := reg.Register(def); err != nil {
			return fmt.Errorf("registering builtin %s: %w", def.Name, err)
		}
	}
	return nil
}

// bookHandler simulates a reservation tool: fresh booking_id on
// success, the given permanent failure under simulate=unavailable.
func bookHandler(tool, prefix, unavailableMsg string) Handler {
	return func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
		if err := simulated(tool, input); err != nil {
			return nil, err
		}
		if simulateIs(input, "unavailable") {
			return nil, permanentf(tool, "%s", unavailableMsg)
		}
		out := map[string]interface{}{
			"booking_id": fmt.Sprintf("%s-%s", prefix, strings.ToUpper(uuid.NewString()[:8])),
			"status":     "confirmed",
		}
		for _, k := range []string{"destination", "city", "pickup"} {
			if v, ok := input[k]; ok {
				out[k] = v
			}
		}
		return out, nil
	}
}

// cancelHandler simulates an idempotent cancellation: cancelling an
// already-cancelled or unknown booking still succeeds.
func cancelHandler(tool string) Handler {
	return func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
		if err := simulated(tool, input); err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"cancelled":  true,
			"booking_id": input["booking_id"],
		}, nil
	}
}

// simulated handles the simulate=flaky hook shared by all builtins.
func simulated(tool string, input map[string]interface{}) error {
	if simulateIs(input, "flaky") {
		return &ToolError{Tool: tool, Permanent: false, Err: errors.New("simulated transient failure")}
	}
	return nil
}

func simulateIs(input map[string]interface{}, mode string) bool {
	v, ok := input["simulate"].(string)
	return ok && v == mode
}
