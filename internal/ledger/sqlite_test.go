package ledger

import (
	"context"
	"testing"
)

func TestStore_RecordAndAverage(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	records := []UsageRecord{
		{Operation: "batch-generation", Model: "gpt-4o-mini", Section: "definition", InputTokens: 60, OutputTokens: 140, Cost: 0.002, Success: true},
		{Operation: "batch-generation", Model: "gpt-4o-mini", Section: "definition", InputTokens: 90, OutputTokens: 210, Cost: 0.003, Success: true},
		// Failed records must not influence the average
		{Operation: "batch-generation", Model: "gpt-4o-mini", Section: "definition", InputTokens: 5000, OutputTokens: 5000, Cost: 0.1, Success: false},
	}
	for _, rec := range records {
		if err := store.RecordUsage(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	avg, err := store.AverageTokensPerTerm(ctx, "definition")
	if err != nil {
		t.Fatal(err)
	}
	if avg != 250 {
		t.Errorf("AverageTokensPerTerm = %v, want 250", avg)
	}
}

func TestStore_AverageWithoutHistory(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	avg, err := store.AverageTokensPerTerm(context.Background(), "etymology")
	if err != nil {
		t.Fatal(err)
	}
	if avg != 0 {
		t.Errorf("AverageTokensPerTerm = %v, want 0", avg)
	}
}

func TestStore_Summary(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	store.RecordUsage(ctx, UsageRecord{Operation: "batch-generation", Model: "gpt-4o-mini", Section: "definition", InputTokens: 100, OutputTokens: 200, Cost: 0.01, Success: true})
	store.RecordUsage(ctx, UsageRecord{Operation: "batch-generation", Model: "gpt-4o", Section: "example", InputTokens: 50, OutputTokens: 100, Cost: 0.05, Success: true})

	sum, err := store.Summary(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sum.TodayRecords != 2 {
		t.Errorf("TodayRecords = %d, want 2", sum.TodayRecords)
	}
	if sum.TodayTokens != 450 {
		t.Errorf("TodayTokens = %d, want 450", sum.TodayTokens)
	}
	if sum.ByModel["gpt-4o"] != 0.05 {
		t.Errorf("ByModel[gpt-4o] = %v, want 0.05", sum.ByModel["gpt-4o"])
	}
}
