package services

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bibflow/holdingpen-backend/internal/pkg/logger"
)

func testRules() []HiddenRule {
	return []HiddenRule{
		{Match: "cern", Collection: "CDS Hidden"},
		{Match: "in2p3", Collection: "HAL Hidden"},
		{Match: "fermilab", Collection: "Fermilab"},
	}
}

func TestHiddenCollectionsCollectionFor(t *testing.T) {
	h := NewHiddenCollections(testRules(), logger.MustNew("development"))

	cases := []struct {
		source string
		want   string
	}{
		{"CDS (CERN Document Server)", "CDS Hidden"},
		{"HAL IN2P3", "HAL Hidden"},
		{"Fermilab Technotes", "Fermilab"},
		{"arXiv", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := h.CollectionFor(tc.source); got != tc.want {
			t.Fatalf("CollectionFor(%q) = %q, want %q", tc.source, got, tc.want)
		}
	}
}

func TestHiddenCollectionsFirstMatchWins(t *testing.T) {
	h := NewHiddenCollections([]HiddenRule{
		{Match: "cern", Collection: "First"},
		{Match: "cern document", Collection: "Second"},
	}, logger.MustNew("development"))

	if got := h.CollectionFor("CERN Document Server"); got != "First" {
		t.Fatalf("CollectionFor = %q, want first rule to win", got)
	}
}

func TestHiddenCollectionsNilSafe(t *testing.T) {
	var h *HiddenCollections
	if got := h.CollectionFor("CERN"); got != "" {
		t.Fatalf("nil CollectionFor = %q, want empty", got)
	}
}

func TestLoadHiddenCollections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hidden.yaml")
	content := `rules:
  - match: cern
    collection: CDS Hidden
  - match: in2p3
    collection: HAL Hidden
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	h, err := LoadHiddenCollections(path, logger.MustNew("development"))
	if err != nil {
		t.Fatalf("LoadHiddenCollections: %v", err)
	}
	if got := h.CollectionFor("oai:cds.cern.ch:123"); got != "CDS Hidden" {
		t.Fatalf("CollectionFor = %q, want CDS Hidden", got)
	}

	if _, err := LoadHiddenCollections(filepath.Join(t.TempDir(), "missing.yaml"), logger.MustNew("development")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestFlagsReadEnvPerCall(t *testing.T) {
	f := NewFlags()

	t.Setenv("FEATURE_FLAG_ENABLE_SEND_TO_LEGACY", "")
	t.Setenv("FEATURE_FLAG_ENABLE_UPDATE_TO_LEGACY", "")
	t.Setenv("APP_ENV", "")

	if !f.SendToLegacy() {
		t.Fatalf("SendToLegacy default should be enabled")
	}
	if f.UpdateToLegacy() {
		t.Fatalf("UpdateToLegacy default should be disabled")
	}
	if f.Production() {
		t.Fatalf("Production default should be false")
	}

	t.Setenv("FEATURE_FLAG_ENABLE_SEND_TO_LEGACY", "false")
	t.Setenv("FEATURE_FLAG_ENABLE_UPDATE_TO_LEGACY", "true")
	t.Setenv("APP_ENV", "production")

	if f.SendToLegacy() {
		t.Fatalf("SendToLegacy should follow flipped env")
	}
	if !f.UpdateToLegacy() {
		t.Fatalf("UpdateToLegacy should follow flipped env")
	}
	if !f.Production() {
		t.Fatalf("Production should follow flipped env")
	}
}
