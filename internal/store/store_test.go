package store_test

import (
	"path/filepath"
	"testing"

	"github.com/ten0s/bee2/internal/store"
)

func openTestDb(t *testing.T) *store.Config {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "bee2-test.sqlite")
	return &store.Config{Type: "sqlite", DSN: dsn}
}

func TestInitDbMigratesAndRoundTripsCert(t *testing.T) {
	cfg := openTestDb(t)
	db, err := store.InitDb(*cfg)
	if err != nil {
		t.Fatalf("InitDb: %v", err)
	}

	c := &store.StoredCert{
		Holder:    "BYCA0001",
		Authority: "BYCA0000",
		Level:     128,
		Data:      []byte{0x7F, 0x21, 0x01, 0x00},
		NotBefore: "020700",
		NotAfter:  "090700",
	}
	if err := store.SaveCert(db, c); err != nil {
		t.Fatalf("SaveCert: %v", err)
	}

	got, err := store.CertsByHolder(db, "BYCA0001")
	if err != nil {
		t.Fatalf("CertsByHolder: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len(got) = %d, want 1", len(got))
	}
	if got[0].Authority != "BYCA0000" || got[0].Level != 128 {
		t.Fatalf("unexpected row: %+v", got[0])
	}
}

func TestInitDbRejectsUnsupportedType(t *testing.T) {
	_, err := store.InitDb(store.Config{Type: "oracle", DSN: "whatever"})
	if err == nil {
		t.Fatal("expected error for unsupported database type")
	}
}

func TestInitDbRequiresDsn(t *testing.T) {
	_, err := store.InitDb(store.Config{Type: "sqlite"})
	if err == nil {
		t.Fatal("expected error for missing dsn")
	}
}

func TestSaveSession(t *testing.T) {
	cfg := openTestDb(t)
	db, err := store.InitDb(*cfg)
	if err != nil {
		t.Fatalf("InitDb: %v", err)
	}

	rec := &store.SessionRecord{Role: "T", PeerHat: "BYCA0002", Kca: true, Kcb: true, Outcome: "ok"}
	if err := store.SaveSession(db, rec); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if rec.ID == 0 {
		t.Fatal("expected SaveSession to assign an ID")
	}
}
