package orchestrator

import (
	"testing"
	"time"
)

func TestMemoryStoreRoundtrip(t *testing.T) {
	store := NewMemoryStore()

	if _, has, err := store.Load(); err != nil || has {
		t.Fatalf("Load inicial: has=%v err=%v, esperado vazio", has, err)
	}

	snap := Snapshot{Status: "connected", Phone: "5511999990000", Sent: 10, Received: 3, UpdatedAt: time.Now()}
	if err := store.Save(snap); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, has, err := store.Load()
	if err != nil || !has {
		t.Fatalf("Load: has=%v err=%v", has, err)
	}
	if loaded.Phone != snap.Phone || loaded.Sent != snap.Sent {
		t.Errorf("Load devolveu %+v, esperado %+v", loaded, snap)
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, has, _ := store.Load(); has {
		t.Error("Load após Clear deveria estar vazio")
	}
}

func TestFileStoreRoundtrip(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir, "inst-1", "chave-de-teste")

	if _, has, err := store.Load(); err != nil || has {
		t.Fatalf("Load sem arquivo: has=%v err=%v", has, err)
	}

	snap := Snapshot{Status: "connected", Phone: "5511999990000", Sent: 42, UpdatedAt: time.Now().UTC()}
	if err := store.Save(snap); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, has, err := store.Load()
	if err != nil || !has {
		t.Fatalf("Load: has=%v err=%v", has, err)
	}
	if loaded.Status != "connected" || loaded.Phone != snap.Phone || loaded.Sent != 42 {
		t.Errorf("Load devolveu %+v", loaded)
	}

	// Chave errada não pode devolver dados.
	wrong := NewFileStore(dir, "inst-1", "outra-chave")
	if _, _, err := wrong.Load(); err == nil {
		t.Error("Load com chave errada deveria falhar")
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, has, _ := store.Load(); has {
		t.Error("Load após Clear deveria estar vazio")
	}
}
