package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"cariusb-relay/internal/domain"
)

// FileStore guarda todas las conversaciones en un unico archivo JSON. Un
// archivo ilegible se trata como vacio y se reescribe en el proximo cambio.
type FileStore struct {
	*MemoryStore
	path string
}

func NewFileStore(path string, logger *zap.Logger) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("conversation store path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	convs, err := loadFile(path)
	if err != nil {
		logger.Warn("ignoring unreadable conversation file", zap.String("path", path), zap.Error(err))
		convs = nil
	}
	mem := NewMemoryStore()
	mem.convs = convs
	fsStore := &FileStore{MemoryStore: mem, path: path}
	mem.persist = fsStore.write
	return fsStore, nil
}

func (s *FileStore) Path() string { return s.path }

func loadFile(path string) ([]domain.Conversation, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var convs []domain.Conversation
	if err := json.Unmarshal(raw, &convs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return convs, nil
}

// write reemplaza el archivo de forma atomica via un temporal en el mismo dir.
func (s *FileStore) write(convs []domain.Conversation) error {
	if convs == nil {
		convs = []domain.Conversation{}
	}
	data, err := json.MarshalIndent(convs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode conversations: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".conversations-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}
