package conversation

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"cariusb-relay/internal/domain"
)

var (
	ErrNotFound     = errors.New("conversation not found")
	ErrNoAssistant  = errors.New("last message is not an assistant placeholder")
	ErrEmptyMessage = errors.New("message is empty")
)

// Store persiste las conversaciones del lado del cliente.
type Store interface {
	Create(ctx context.Context, mode domain.DomainMode, firstUserMessage string) (domain.Conversation, error)
	Get(ctx context.Context, id string) (domain.Conversation, error)
	// List devuelve las conversaciones, la mas reciente primero.
	List(ctx context.Context) ([]domain.Conversation, error)
	AppendUserMessage(ctx context.Context, id, content string) error
	// BeginAssistant agrega un mensaje de asistente vacio al final.
	BeginAssistant(ctx context.Context, id string) error
	// AppendDelta concatena delta al mensaje de asistente final.
	AppendDelta(ctx context.Context, id, delta string) error
	SetMode(ctx context.Context, id string, mode domain.DomainMode) error
	Clear(ctx context.Context) error
}

// MemoryStore guarda las conversaciones en memoria. FileStore lo reutiliza
// agregando la escritura a disco despues de cada cambio.
type MemoryStore struct {
	mu    sync.Mutex
	convs []domain.Conversation
	now   func() time.Time
	// persist corre con mu tomado despues de cada mutacion.
	persist func([]domain.Conversation) error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (s *MemoryStore) Create(ctx context.Context, mode domain.DomainMode, firstUserMessage string) (domain.Conversation, error) {
	if strings.TrimSpace(firstUserMessage) == "" {
		return domain.Conversation{}, ErrEmptyMessage
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	conv := domain.Conversation{
		ID:        uuid.NewString(),
		Mode:      domain.NormalizeDomainMode(string(mode)),
		CreatedAt: now,
		Messages: []domain.ChatMessage{{
			ID:        uuid.NewString(),
			Role:      domain.RoleUser,
			Content:   firstUserMessage,
			CreatedAt: now,
		}},
	}
	s.convs = append(s.convs, conv)
	if err := s.save(); err != nil {
		s.convs = s.convs[:len(s.convs)-1]
		return domain.Conversation{}, err
	}
	return cloneConversation(conv), nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOf(id)
	if idx < 0 {
		return domain.Conversation{}, ErrNotFound
	}
	return cloneConversation(s.convs[idx]), nil
}

func (s *MemoryStore) List(ctx context.Context) ([]domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		out = append(out, cloneConversation(c))
	}
	slices.SortStableFunc(out, func(a, b domain.Conversation) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) AppendUserMessage(ctx context.Context, id, content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyMessage
	}
	return s.mutate(id, func(c *domain.Conversation) error {
		c.Messages = append(c.Messages, domain.ChatMessage{
			ID:        uuid.NewString(),
			Role:      domain.RoleUser,
			Content:   content,
			CreatedAt: s.now().UTC(),
		})
		return nil
	})
}

func (s *MemoryStore) BeginAssistant(ctx context.Context, id string) error {
	return s.mutate(id, func(c *domain.Conversation) error {
		c.Messages = append(c.Messages, domain.ChatMessage{
			ID:        uuid.NewString(),
			Role:      domain.RoleAssistant,
			CreatedAt: s.now().UTC(),
		})
		return nil
	})
}

func (s *MemoryStore) AppendDelta(ctx context.Context, id, delta string) error {
	if delta == "" {
		return nil
	}
	return s.mutate(id, func(c *domain.Conversation) error {
		idx, ok := c.LastAssistant()
		if !ok {
			return ErrNoAssistant
		}
		c.Messages[idx].Content += delta
		return nil
	})
}

func (s *MemoryStore) SetMode(ctx context.Context, id string, mode domain.DomainMode) error {
	return s.mutate(id, func(c *domain.Conversation) error {
		c.Mode = domain.NormalizeDomainMode(string(mode))
		return nil
	})
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.convs
	s.convs = nil
	if err := s.save(); err != nil {
		s.convs = prev
		return err
	}
	return nil
}

// mutate aplica fn sobre una copia y solo la publica si se pudo persistir.
func (s *MemoryStore) mutate(id string, fn func(*domain.Conversation) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOf(id)
	if idx < 0 {
		return ErrNotFound
	}
	prev := s.convs[idx]
	next := cloneConversation(prev)
	if err := fn(&next); err != nil {
		return err
	}
	s.convs[idx] = next
	if err := s.save(); err != nil {
		s.convs[idx] = prev
		return err
	}
	return nil
}

func (s *MemoryStore) indexOf(id string) int {
	return slices.IndexFunc(s.convs, func(c domain.Conversation) bool { return c.ID == id })
}

func (s *MemoryStore) save() error {
	if s.persist == nil {
		return nil
	}
	return s.persist(s.convs)
}

func cloneConversation(c domain.Conversation) domain.Conversation {
	c.Messages = slices.Clone(c.Messages)
	return c
}
