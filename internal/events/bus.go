package events

import (
	"context"
	"fmt"
	"time"

	"github.com/gookit/event"

	"github.com/tetrixdev/vps-setup/internal/shared/logger"
)

// Bus wraps the gookit event manager for bootstrap run events.
type Bus struct {
	bus *event.Manager
	log *logger.Logger
}

// NewBus creates the event bus.
func NewBus(log *logger.Logger) *Bus {
	return &Bus{
		bus: event.NewManager("bootstrap"),
		log: log.WithComponent("events"),
	}
}

// PublishRunStarted publishes a run started event.
func (b *Bus) PublishRunStarted(runID, mode, username string, steps int) error {
	payload := RunStartedEvent{
		RunID:     runID,
		Mode:      mode,
		Username:  username,
		Steps:     steps,
		Timestamp: time.Now(),
	}

	err, _ := b.bus.Fire(EventRunStarted, event.M{"payload": payload})
	if err != nil {
		return fmt.Errorf("failed to publish run started event: %w", err)
	}
	return nil
}

// PublishRunCompleted publishes a run completed event.
func (b *Bus) PublishRunCompleted(runID, mode, endpoint string, duration time.Duration) error {
	payload := RunCompletedEvent{
		RunID:     runID,
		Mode:      mode,
		Endpoint:  endpoint,
		Duration:  duration,
		Timestamp: time.Now(),
	}

	err, _ := b.bus.Fire(EventRunCompleted, event.M{"payload": payload})
	if err != nil {
		return fmt.Errorf("failed to publish run completed event: %w", err)
	}
	return nil
}

// PublishRunFailed publishes a run failed event.
func (b *Bus) PublishRunFailed(runID, step string, runErr error) error {
	payload := RunFailedEvent{
		RunID:     runID,
		Step:      step,
		Error:     runErr.Error(),
		Timestamp: time.Now(),
	}

	err, _ := b.bus.Fire(EventRunFailed, event.M{"payload": payload})
	if err != nil {
		return fmt.Errorf("failed to publish run failed event: %w", err)
	}
	return nil
}

// PublishStepStarted publishes a step started event.
func (b *Bus) PublishStepStarted(runID, step string, index, total int) error {
	payload := StepStartedEvent{
		RunID:     runID,
		Step:      step,
		Index:     index,
		Total:     total,
		Timestamp: time.Now(),
	}

	err, _ := b.bus.Fire(EventStepStarted, event.M{"payload": payload})
	if err != nil {
		return fmt.Errorf("failed to publish step started event: %w", err)
	}
	return nil
}

// PublishStepCompleted publishes a step completed event.
func (b *Bus) PublishStepCompleted(runID, step string, index, total int, duration time.Duration) error {
	payload := StepCompletedEvent{
		RunID:     runID,
		Step:      step,
		Index:     index,
		Total:     total,
		Duration:  duration,
		Timestamp: time.Now(),
	}

	err, _ := b.bus.Fire(EventStepCompleted, event.M{"payload": payload})
	if err != nil {
		return fmt.Errorf("failed to publish step completed event: %w", err)
	}
	return nil
}

// PublishStepFailed publishes a step failed event.
func (b *Bus) PublishStepFailed(runID, step string, index, total int, stepErr error) error {
	payload := StepFailedEvent{
		RunID:     runID,
		Step:      step,
		Index:     index,
		Total:     total,
		Error:     stepErr.Error(),
		Timestamp: time.Now(),
	}

	err, _ := b.bus.Fire(EventStepFailed, event.M{"payload": payload})
	if err != nil {
		return fmt.Errorf("failed to publish step failed event: %w", err)
	}
	return nil
}

// SubscribeRunEvents subscribes a listener to run lifecycle events.
func (b *Bus) SubscribeRunEvents(listener event.Listener) {
	b.bus.On(EventRunStarted, listener, event.High)
	b.bus.On(EventRunCompleted, listener, event.Normal)
	b.bus.On(EventRunFailed, listener, event.Normal)
}

// SubscribeStepEvents subscribes a listener to step lifecycle events.
func (b *Bus) SubscribeStepEvents(listener event.Listener) {
	b.bus.On(EventStepStarted, listener, event.Normal)
	b.bus.On(EventStepCompleted, listener, event.Normal)
	b.bus.On(EventStepFailed, listener, event.Normal)
}

// Close shuts down the event bus.
func (b *Bus) Close() error {
	b.log.DebugContext(context.Background(), "closing event bus")
	b.bus.Clear()
	return nil
}
