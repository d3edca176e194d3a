package gateway

import (
	"errors"
	"testing"
	"time"

	"paycore/internal/entity"
	"paycore/pkg/clock"
)

func newTestBreaker(clk clock.Clock) *Breaker {
	return NewBreaker(BreakerConfig{
		Window:    30 * time.Second,
		Threshold: 0.5,
		MinCalls:  4,
		Cooldown:  15 * time.Second,
		MaxProbes: 2,
	}, clk)
}

func tripBreaker(t *testing.T, b *Breaker) {
	t.Helper()
	for range 4 {
		if err := b.Allow(); err != nil {
			t.Fatalf("closed breaker rejected call: %v", err)
		}
		b.Record(true)
	}
	if b.State() != "open" {
		t.Fatalf("expected open after failure burst, got %s", b.State())
	}
}

func TestBreaker_StaysClosedBelowThreshold(t *testing.T) {
	clk := clock.NewFake(time.Unix(1700000000, 0))
	b := newTestBreaker(clk)

	for range 10 {
		if err := b.Allow(); err != nil {
			t.Fatalf("unexpected rejection: %v", err)
		}
		b.Record(false)
	}
	// One failure among ten stays well under the 50% threshold.
	b.Record(true)

	if b.State() != "closed" {
		t.Fatalf("expected closed, got %s", b.State())
	}
}

func TestBreaker_OpensAtThresholdAndFailsFast(t *testing.T) {
	clk := clock.NewFake(time.Unix(1700000000, 0))
	b := newTestBreaker(clk)

	tripBreaker(t, b)

	err := b.Allow()
	if !errors.Is(err, entity.ErrBreakerOpen) {
		t.Fatalf("expected ErrBreakerOpen, got %v", err)
	}
}

func TestBreaker_RequiresMinCalls(t *testing.T) {
	clk := clock.NewFake(time.Unix(1700000000, 0))
	b := newTestBreaker(clk)

	// Three failures is 100% failure rate but under the minimum volume.
	for range 3 {
		b.Record(true)
	}
	if b.State() != "closed" {
		t.Fatalf("expected closed under min call volume, got %s", b.State())
	}
}

func TestBreaker_HalfOpenProbesThenCloses(t *testing.T) {
	clk := clock.NewFake(time.Unix(1700000000, 0))
	b := newTestBreaker(clk)

	tripBreaker(t, b)
	clk.Advance(15 * time.Second)

	for range 2 {
		if err := b.Allow(); err != nil {
			t.Fatalf("expected probe to be admitted: %v", err)
		}
		b.Record(false)
	}

	if b.State() != "closed" {
		t.Fatalf("expected closed after successful probes, got %s", b.State())
	}
}

func TestBreaker_ProbeBudgetIsBounded(t *testing.T) {
	clk := clock.NewFake(time.Unix(1700000000, 0))
	b := newTestBreaker(clk)

	tripBreaker(t, b)
	clk.Advance(15 * time.Second)

	if err := b.Allow(); err != nil {
		t.Fatalf("first probe rejected: %v", err)
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("second probe rejected: %v", err)
	}
	if err := b.Allow(); !errors.Is(err, entity.ErrBreakerOpen) {
		t.Fatalf("expected probe budget exhaustion, got %v", err)
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	clk := clock.NewFake(time.Unix(1700000000, 0))
	b := newTestBreaker(clk)

	tripBreaker(t, b)
	clk.Advance(15 * time.Second)

	if err := b.Allow(); err != nil {
		t.Fatalf("probe rejected: %v", err)
	}
	b.Record(true)

	if b.State() != "open" {
		t.Fatalf("expected reopen after failed probe, got %s", b.State())
	}
	if err := b.Allow(); !errors.Is(err, entity.ErrBreakerOpen) {
		t.Fatalf("expected fail-fast after reopen, got %v", err)
	}

	// The cooldown restarts from the reopen.
	clk.Advance(15 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("expected probe after second cooldown: %v", err)
	}
}
