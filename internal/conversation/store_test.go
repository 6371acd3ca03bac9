package conversation

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cariusb-relay/internal/domain"
)

func TestMemoryStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	first, err := s.Create(ctx, "MOTO", "hola")
	require.NoError(t, err)
	require.Equal(t, domain.DomainModeMoto, first.Mode)
	require.Len(t, first.Messages, 1)
	require.Equal(t, domain.RoleUser, first.Messages[0].Role)

	second, err := s.Create(ctx, "weird", "otra")
	require.NoError(t, err)
	require.Equal(t, domain.DomainModeTech, second.Mode)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, second.ID, list[0].ID, "newest first")

	require.NoError(t, s.BeginAssistant(ctx, first.ID))
	require.NoError(t, s.AppendDelta(ctx, first.ID, "Buen"))
	require.NoError(t, s.AppendDelta(ctx, first.ID, "as"))
	require.NoError(t, s.AppendUserMessage(ctx, first.ID, "gracias"))
	require.ErrorIs(t, s.AppendDelta(ctx, first.ID, "x"), ErrNoAssistant)

	got, err := s.Get(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 3)
	require.Equal(t, "Buenas", got.Messages[1].Content)
	require.Equal(t, "gracias", got.Messages[2].Content)

	require.NoError(t, s.SetMode(ctx, first.ID, domain.DomainModeBicycle))
	got, _ = s.Get(ctx, first.ID)
	require.Equal(t, domain.DomainModeBicycle, got.Mode)

	require.NoError(t, s.Clear(ctx))
	list, _ = s.List(ctx)
	require.Empty(t, list)
}

func TestMemoryStore_Errors(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Create(ctx, domain.DomainModeTech, "   ")
	require.ErrorIs(t, err, ErrEmptyMessage)
	_, err = s.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, s.AppendUserMessage(ctx, "missing", "hola"), ErrNotFound)
	require.ErrorIs(t, s.BeginAssistant(ctx, "missing"), ErrNotFound)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	conv, err := s.Create(ctx, domain.DomainModeAuto, "hola")
	require.NoError(t, err)

	conv.Messages[0].Content = "mutated"
	got, _ := s.Get(ctx, conv.ID)
	require.Equal(t, "hola", got.Messages[0].Content)
}

func TestFileStore_PersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "conversations.json")

	s, err := NewFileStore(path, nil)
	require.NoError(t, err)
	conv, err := s.Create(ctx, domain.DomainModeAuto, "hola")
	require.NoError(t, err)
	require.NoError(t, s.BeginAssistant(ctx, conv.ID))
	require.NoError(t, s.AppendDelta(ctx, conv.ID, "que tal"))

	reopened, err := NewFileStore(path, nil)
	require.NoError(t, err)
	got, err := reopened.Get(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	require.Equal(t, "que tal", got.Messages[1].Content)
	require.Equal(t, domain.DomainModeAuto, got.Mode)

	require.NoError(t, reopened.Clear(ctx))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.JSONEq(t, `[]`, string(raw))
}

func TestFileStore_CorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conversations.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s, err := NewFileStore(path, nil)
	require.NoError(t, err)
	list, err := s.List(context.Background())
	require.NoError(t, err)
	require.Empty(t, list)

	_, err = NewFileStore(" ", nil)
	require.Error(t, err)
}
