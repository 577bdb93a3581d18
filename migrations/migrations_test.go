package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func TestMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(FS, ".")
	if err != nil {
		t.Fatalf("read embedded dir: %v", err)
	}
	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	if len(ups) == 0 {
		t.Fatalf("no migrations embedded")
	}
	for version := range ups {
		if !downs[version] {
			t.Errorf("migration %s has no down file", version)
		}
	}
}

func TestConfirmedSlotIndexIsPartial(t *testing.T) {
	data, err := fs.ReadFile(FS, "000002_bookings.up.sql")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	sql := string(data)
	if !strings.Contains(sql, "appointments_confirmed_slot_key") || !strings.Contains(sql, "WHERE status = 'confirmed'") {
		t.Fatalf("expected partial unique index on confirmed slots")
	}
}
