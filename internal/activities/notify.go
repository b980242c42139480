package activities

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/activity"
)

// PublishRunEvents forwards a batch of run events to the broker in
// sequence order. Publishing stops at the first error; the workflow
// retries the whole batch on its next flush and subscribers dedupe by
// sequence number. Without a configured publisher this is a no-op.
func (a *Activities) PublishRunEvents(ctx context.Context, in PublishEventsInput) error {
	if a.publisher == nil || len(in.Events) == 0 {
		return nil
	}
	for i, ev := range in.Events {
		if err := a.publisher.PublishRunEvent(ctx, in.RunID, ev); err != nil {
			a.metrics.recordEventsPublished(ctx, i)
			return fmt.Errorf("publishing event seq %d: %w", ev.Seq, err)
		}
	}
	a.metrics.recordEventsPublished(ctx, len(in.Events))
	activity.GetLogger(ctx).Debug("Published run events",
		"run_id", in.RunID,
		"count", len(in.Events),
		"first_seq", in.Events[0].Seq,
		"last_seq", in.Events[len(in.Events)-1].Seq)
	return nil
}
