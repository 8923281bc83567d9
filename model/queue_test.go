package model

import (
	"context"
	"testing"

	"github.com/signalsfoundry/desengine/config"
	"github.com/signalsfoundry/desengine/runctl"
)

func TestQueueModelRunsToHorizonAndReportsSnaps(t *testing.T) {
	cfg := config.Config{
		WarmUpDuration: 5,
		SnapDuration:   20,
		SnapCount:      3,
		MasterSeed:     7,
		RunModel:       true,
	}

	var reports []SnapReport
	hooks := QueueHooks{Record: func(r SnapReport) {
		reports = append(reports, r)
	}}

	ctrl, err := runctl.New[*QueueState](cfg, hooks)
	if err != nil {
		t.Fatalf("runctl.New: %v", err)
	}

	state := NewQueueState(ctrl.Streams(), 2, 1.5)
	summary, err := ctrl.Run(context.Background(), QueueModel{}, state)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.TerminationReason != runctl.TerminationHorizonReached {
		t.Fatalf("TerminationReason = %v, want HorizonReached", summary.TerminationReason)
	}
	if len(reports) != cfg.SnapCount {
		t.Fatalf("got %d snap reports, want %d", len(reports), cfg.SnapCount)
	}
	for i, r := range reports {
		if r.SnapIndex != i {
			t.Fatalf("reports[%d].SnapIndex = %d, want %d", i, r.SnapIndex, i)
		}
		if r.MeanQueueLength < 0 {
			t.Fatalf("reports[%d].MeanQueueLength = %v, want >= 0", i, r.MeanQueueLength)
		}
	}
	if summary.EventsDispatched == 0 {
		t.Fatalf("expected at least one dispatched event")
	}
}

func TestQueueModelDeterministicForFixedSeed(t *testing.T) {
	run := func() (runctl.RunSummary, []SnapReport) {
		cfg := config.Config{
			WarmUpDuration: 3,
			SnapDuration:   10,
			SnapCount:      2,
			MasterSeed:     123,
			RunModel:       true,
		}
		var reports []SnapReport
		hooks := QueueHooks{Record: func(r SnapReport) { reports = append(reports, r) }}
		ctrl, err := runctl.New[*QueueState](cfg, hooks)
		if err != nil {
			t.Fatalf("runctl.New: %v", err)
		}
		state := NewQueueState(ctrl.Streams(), 1, 0.8)
		summary, err := ctrl.Run(context.Background(), QueueModel{}, state)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		return summary, reports
	}

	summary1, reports1 := run()
	summary2, reports2 := run()

	if summary1.EventsDispatched != summary2.EventsDispatched {
		t.Fatalf("EventsDispatched differ across runs: %d vs %d", summary1.EventsDispatched, summary2.EventsDispatched)
	}
	if len(reports1) != len(reports2) {
		t.Fatalf("report counts differ: %d vs %d", len(reports1), len(reports2))
	}
	for i := range reports1 {
		if reports1[i] != reports2[i] {
			t.Fatalf("report %d differs across runs: %+v vs %+v", i, reports1[i], reports2[i])
		}
	}
}
