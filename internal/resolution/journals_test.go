package resolution

import (
	"context"
	"testing"

	"github.com/bibflow/holdingpen-backend/internal/catalog"
	"github.com/bibflow/holdingpen-backend/internal/domain"
	"github.com/bibflow/holdingpen-backend/internal/pkg/logger"
	"github.com/bibflow/holdingpen-backend/internal/workflows/runtime"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	return logger.MustNew("development")
}

func newCache() *runtime.MatchCache {
	return runtime.NewMatchCache()
}

// countingService wraps a Service and counts how many lookups actually
// reach it, to verify the per-run cache short-circuits repeats.
type countingService struct {
	inner catalog.Service
	calls int
}

func (s *countingService) FindCandidates(ctx context.Context, kind catalog.Kind, text string) ([]catalog.Candidate, error) {
	s.calls++
	return s.inner.FindCandidates(ctx, kind, text)
}

func (s *countingService) FindSubgroupCandidates(ctx context.Context, text string) ([]catalog.Candidate, error) {
	s.calls++
	return s.inner.FindSubgroupCandidates(ctx, text)
}

func journalCatalog() catalog.Service {
	return catalog.NewIndexService([]catalog.Entity{
		{
			ID:          "j1",
			Kind:        catalog.KindJournal,
			DisplayName: "Phys.Rev.D",
			RefURL:      "https://inspirehep.net/api/journals/1613970",
			Variants:    []string{"Physical Review D", "Phys. Rev. D"},
			Categories:  []string{"Astrophysics", "Accelerators"},
		},
		{
			ID:          "j2",
			Kind:        catalog.KindJournal,
			DisplayName: "JHEP",
			RefURL:      "https://inspirehep.net/api/journals/1213103",
			Variants:    []string{"Journal of High Energy Physics", "J. High Energy Phys."},
			Categories:  []string{"Theory-HEP"},
		},
		{
			ID:          "j3",
			Kind:        catalog.KindJournal,
			DisplayName: "Nucl.Phys.",
			RefURL:      "https://inspirehep.net/api/journals/1613971",
			Variants:    []string{"Nuclear Physics"},
		},
		{
			ID:          "j4",
			Kind:        catalog.KindJournal,
			DisplayName: "Nucl.Phys.B",
			RefURL:      "https://inspirehep.net/api/journals/1613972",
			Variants:    []string{"Nuclear Physics"},
		},
	})
}

func TestNormalizeJournalTitlesOverwritesAndLinks(t *testing.T) {
	rec := &domain.Record{
		PublicationInfo: []domain.PublicationInfo{
			{JournalTitle: "Physical Review D.", JournalVolume: "101"},
		},
	}
	terms, err := NormalizeJournalTitles(context.Background(), journalCatalog(), newCache(), rec, testLogger(t))
	if err != nil {
		t.Fatalf("NormalizeJournalTitles: %v", err)
	}
	pub := rec.PublicationInfo[0]
	if pub.JournalTitle != "Phys.Rev.D" {
		t.Fatalf("journal_title = %q, want Phys.Rev.D", pub.JournalTitle)
	}
	if pub.JournalRecord == nil || pub.JournalRecord.Ref != "https://inspirehep.net/api/journals/1613970" {
		t.Fatalf("journal_record = %+v", pub.JournalRecord)
	}
	if pub.JournalVolume != "101" {
		t.Fatalf("sibling field changed: %q", pub.JournalVolume)
	}
	if len(terms) != 2 || terms[0] != "Astrophysics" || terms[1] != "Accelerators" {
		t.Fatalf("collected terms = %v", terms)
	}
}

func TestNormalizeJournalTitlesReferencesGetNoCategories(t *testing.T) {
	rec := &domain.Record{
		References: []domain.Reference{
			{Reference: &domain.ReferenceFields{
				PublicationInfo: &domain.PublicationInfo{JournalTitle: "J. High Energy Phys."},
			}},
		},
	}
	terms, err := NormalizeJournalTitles(context.Background(), journalCatalog(), newCache(), rec, testLogger(t))
	if err != nil {
		t.Fatalf("NormalizeJournalTitles: %v", err)
	}
	pub := rec.References[0].Reference.PublicationInfo
	if pub.JournalTitle != "JHEP" {
		t.Fatalf("reference journal_title = %q", pub.JournalTitle)
	}
	if pub.JournalRecord == nil {
		t.Fatal("reference journal_record not set")
	}
	if len(terms) != 0 {
		t.Fatalf("reference match must not collect categories, got %v", terms)
	}
}

func TestNormalizeJournalTitlesAmbiguousLeavesEntry(t *testing.T) {
	rec := &domain.Record{
		PublicationInfo: []domain.PublicationInfo{{JournalTitle: "Nuclear Physics"}},
	}
	if _, err := NormalizeJournalTitles(context.Background(), journalCatalog(), newCache(), rec, testLogger(t)); err != nil {
		t.Fatalf("NormalizeJournalTitles: %v", err)
	}
	pub := rec.PublicationInfo[0]
	if pub.JournalTitle != "Nuclear Physics" || pub.JournalRecord != nil {
		t.Fatalf("ambiguous entry was modified: %+v", pub)
	}
}

func TestNormalizeJournalTitlesUnknownLeavesEntry(t *testing.T) {
	rec := &domain.Record{
		PublicationInfo: []domain.PublicationInfo{{JournalTitle: "Journal of Nonexistent Results"}},
	}
	if _, err := NormalizeJournalTitles(context.Background(), journalCatalog(), newCache(), rec, testLogger(t)); err != nil {
		t.Fatalf("NormalizeJournalTitles: %v", err)
	}
	if rec.PublicationInfo[0].JournalTitle != "Journal of Nonexistent Results" {
		t.Fatalf("unknown title was modified: %q", rec.PublicationInfo[0].JournalTitle)
	}
}

func TestNormalizeJournalTitlesIsIdempotent(t *testing.T) {
	rec := &domain.Record{
		PublicationInfo: []domain.PublicationInfo{{JournalTitle: "Physical Review D"}},
	}
	svc := journalCatalog()
	log := testLogger(t)
	if _, err := NormalizeJournalTitles(context.Background(), svc, newCache(), rec, log); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	first := rec.PublicationInfo[0]
	if _, err := NormalizeJournalTitles(context.Background(), svc, newCache(), rec, log); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	second := rec.PublicationInfo[0]
	if first.JournalTitle != second.JournalTitle || first.JournalRecord.Ref != second.JournalRecord.Ref {
		t.Fatalf("second pass changed result: %+v vs %+v", first, second)
	}
}

func TestNormalizeJournalTitlesCachesRepeatedLookups(t *testing.T) {
	svc := &countingService{inner: journalCatalog()}
	rec := &domain.Record{
		PublicationInfo: []domain.PublicationInfo{
			{JournalTitle: "Physical Review D"},
			{JournalTitle: "physical review d"},
		},
		References: []domain.Reference{
			{Reference: &domain.ReferenceFields{
				PublicationInfo: &domain.PublicationInfo{JournalTitle: "Physical Review D."},
			}},
		},
	}
	if _, err := NormalizeJournalTitles(context.Background(), svc, newCache(), rec, testLogger(t)); err != nil {
		t.Fatalf("NormalizeJournalTitles: %v", err)
	}
	if svc.calls != 1 {
		t.Fatalf("catalog consulted %d times for one distinct title, want 1", svc.calls)
	}
}
