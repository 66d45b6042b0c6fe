package catalog

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/bibflow/holdingpen-backend/internal/data/repos/testutil"
	"github.com/bibflow/holdingpen-backend/internal/domain"
	"github.com/bibflow/holdingpen-backend/internal/pkg/dbctx"
)

func TestCanonicalEntityRepoCreateAndList(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	if err := tx.Exec("DELETE FROM canonical_entity").Error; err != nil {
		t.Fatalf("clear table: %v", err)
	}
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewCanonicalEntityRepo(nil, testutil.Logger(t))

	entities := []*domain.CanonicalEntity{
		{
			ID:            uuid.New(),
			EntityKind:    "journal",
			CanonicalName: "Test.Jou.1",
			RefURL:        "https://inspirehep.net/api/journals/1936475",
			NameVariants:  datatypes.JSON(`["A Test Journal1"]`),
			CategoryTags:  datatypes.JSON(`["Astrophysics"]`),
		},
		{
			ID:            uuid.New(),
			EntityKind:    "experiment",
			CanonicalName: "ATLAS",
			RefURL:        "https://inspirehep.net/api/experiments/1108541",
			LegacyName:    "CERN-LHC-ATLAS",
			Subgroups:     datatypes.JSON(`["ATLAS Muon","ATLAS Liquid Argon"]`),
		},
	}
	if _, err := repo.Create(dbc, entities); err != nil {
		t.Fatalf("Create: %v", err)
	}

	all, err := repo.ListAll(dbc)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("ListAll = %d rows, want 2", len(all))
	}

	journals, err := repo.ListByKind(dbc, "journal")
	if err != nil {
		t.Fatalf("ListByKind: %v", err)
	}
	if len(journals) != 1 || journals[0].CanonicalName != "Test.Jou.1" {
		t.Fatalf("ListByKind journal = %+v", journals)
	}

	none, err := repo.ListByKind(dbc, "")
	if err != nil {
		t.Fatalf("ListByKind empty: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("ListByKind(\"\") = %d rows, want 0", len(none))
	}
}
