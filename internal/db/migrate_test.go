package db

import (
	"testing"
	"testing/fstest"

	"github.com/mercato-supply-chain/mercato-dapp-sub000/migrations"
)

func TestPendingFilesOrder(t *testing.T) {
	fsys := fstest.MapFS{
		"002_catalog.up.sql":  {Data: []byte("select 1")},
		"001_init.up.sql":     {Data: []byte("select 1")},
		"001_init.down.sql":   {Data: []byte("select 1")},
		"README.md":           {Data: []byte("x")},
		"sub/003_skip.up.sql": {Data: []byte("select 1")},
	}
	got, err := PendingFiles(fsys)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"001_init.up.sql", "002_catalog.up.sql"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	got, err := PendingFiles(migrations.FS)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) == 0 || got[0] != "001_init.up.sql" {
		t.Errorf("embedded migrations = %v", got)
	}
}
