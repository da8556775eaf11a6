// Package examples registers one illustrative workflow body exercising
// the WaitUntil, Wait, DurablyExecute and DurablyRepeat step primitives
// (ContinueIf is not used), wired up by cmd/chronoforge so the library is
// runnable end to end without a real business workflow on hand.
package examples

import (
	"context"
	"errors"
	"time"

	"github.com/radioactive-labs/chrono-forge/pkg/chronoforge"
)

// SampleJobClass is the job class SampleWorkflow is registered under.
const SampleJobClass = "chronoforge.sample"

// SampleWorkflow waits for a "paid" flag to show up in its context, sleeps
// briefly, runs a durable "process" step, repeats a ticking counter three
// times, and finishes with a durable "complete" step.
func SampleWorkflow(ctx context.Context, e *chronoforge.Execution, kwargs map[string]any) error {
	if err := e.WaitUntil(ctx, "paid", time.Hour, 15*time.Minute, nil,
		func(ctx context.Context, c *chronoforge.Context) (bool, error) {
			paid, _ := c.Get("paid").(bool)
			return paid, nil
		},
	); err != nil {
		return err
	}

	if err := e.Wait(ctx, "cool", 1*time.Second); err != nil {
		return err
	}

	if err := e.DurablyExecute(ctx, "process", 3, func(ctx context.Context, c *chronoforge.Context) error {
		return c.Set("processed", true)
	}); err != nil {
		return err
	}

	if err := e.DurablyRepeat(ctx, "tick", chronoforge.DurablyRepeatOptions{
		Every: 2 * time.Second,
		Till: func(ctx context.Context, c *chronoforge.Context) (bool, error) {
			count, _ := c.Get("count").(float64)
			return count >= 3, nil
		},
	}, func(ctx context.Context, c *chronoforge.Context, scheduledFor time.Time) error {
		count, _ := c.Get("count").(float64)
		return c.Set("count", count+1)
	}); err != nil {
		return err
	}

	return e.DurablyExecute(ctx, "complete", 3, func(ctx context.Context, c *chronoforge.Context) error {
		if !c.Has("processed") {
			return errors.New("cannot complete before processing")
		}
		return nil
	})
}
