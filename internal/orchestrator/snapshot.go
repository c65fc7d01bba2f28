package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/conectazap/conectazap/internal/pkg/crypto"
)

// Snapshot é o estado mínimo persistido localmente a cada transição, para
// que um restart retome contadores e telefone sem depender da plataforma.
type Snapshot struct {
	Status    string    `json:"status"`
	Phone     string    `json:"phone"`
	Sent      uint64    `json:"sent"`
	Received  uint64    `json:"received"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store persiste snapshots. A implementação em arquivo criptografa com a
// chave da instância; a em memória serve aos testes.
type Store interface {
	Save(snap Snapshot) error
	Load() (Snapshot, bool, error)
	Clear() error
}

type FileStore struct {
	path   string
	encKey string
	mu     sync.Mutex
}

func NewFileStore(dir, instanceID, encKey string) *FileStore {
	os.MkdirAll(dir, 0755)
	return &FileStore{
		path:   filepath.Join(dir, instanceID+".snapshot"),
		encKey: encKey,
	}
}

func (s *FileStore) Save(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("snapshot: serializar: %w", err)
	}

	encrypted, err := crypto.Encrypt(data, s.encKey)
	if err != nil {
		return fmt.Errorf("snapshot: criptografar: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, encrypted, 0600); err != nil {
		return fmt.Errorf("snapshot: gravar: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("snapshot: renomear: %w", err)
	}
	return nil
}

func (s *FileStore) Load() (Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	encrypted, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("snapshot: ler: %w", err)
	}

	data, err := crypto.Decrypt(encrypted, s.encKey)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("snapshot: descriptografar: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("snapshot: desserializar: %w", err)
	}
	return snap, true, nil
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("snapshot: remover: %w", err)
	}
	return nil
}

// MemoryStore guarda o snapshot em memória. Uso em testes.
type MemoryStore struct {
	mu   sync.Mutex
	snap Snapshot
	has  bool
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Save(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
	s.has = true
	return nil
}

func (s *MemoryStore) Load() (Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap, s.has, nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = Snapshot{}
	s.has = false
	return nil
}
