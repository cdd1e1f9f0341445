package config

import (
	"strings"
	"testing"
	"time"

	"github.com/devskill-org/lec-sim/internal/types"
)

func TestBuildMockTwins_ProducesPositiveConsumptionForBlocks(t *testing.T) {
	cfg, err := LoadConfigFromReader(strings.NewReader(sampleJSON))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	twins, err := cfg.BuildMockTwins(start, 24)
	if err != nil {
		t.Fatalf("BuildMockTwins: %v", err)
	}
	if len(twins) != 1 {
		t.Fatalf("expected exactly one twin (the block agent), got %d", len(twins))
	}
	for guid, tw := range twins {
		val := tw.GetConsumption(start.Add(6*time.Hour), types.Electricity)
		if val <= 0 {
			t.Fatalf("twin %s: expected positive electricity consumption, got %v", guid, val)
		}
	}
}
