package loaders

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/patientjourney/internal/domain/entities"
	apperrors "github.com/zatekoja/patientjourney/pkg/errors"
)

type countingContacts struct {
	mu       sync.Mutex
	calls    [][]string
	contacts map[string]*entities.PatientContact
	err      error
}

func (c *countingContacts) GetByJourneyIDs(ctx context.Context, ids []string) (map[string]*entities.PatientContact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, append([]string(nil), ids...))
	if c.err != nil {
		return nil, c.err
	}
	out := map[string]*entities.PatientContact{}
	for _, id := range ids {
		if contact, ok := c.contacts[id]; ok {
			out[id] = contact
		}
	}
	return out, nil
}

func TestContactLoader_BatchesKeys(t *testing.T) {
	repo := &countingContacts{contacts: map[string]*entities.PatientContact{
		"j-1": {JourneyID: "j-1", FullName: "Ada"},
		"j-2": {JourneyID: "j-2", FullName: "Bola"},
	}}
	l := NewLoaders(repo)
	ctx := context.Background()

	first := l.ContactLoader.Load(ctx, "j-1")
	second := l.ContactLoader.Load(ctx, "j-2")
	missing := l.ContactLoader.Load(ctx, "j-3")

	c1, err := first()
	require.NoError(t, err)
	assert.Equal(t, "Ada", c1.FullName)

	c2, err := second()
	require.NoError(t, err)
	assert.Equal(t, "Bola", c2.FullName)

	_, err = missing()
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))

	require.Len(t, repo.calls, 1)
	assert.ElementsMatch(t, []string{"j-1", "j-2", "j-3"}, repo.calls[0])
}

func TestContactLoader_PropagatesRepositoryError(t *testing.T) {
	repo := &countingContacts{err: errors.New("db down")}
	l := NewLoaders(repo)

	_, err := l.ContactLoader.Load(context.Background(), "j-1")()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	assert.False(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
}

func TestWithLoaders(t *testing.T) {
	assert.Nil(t, For(context.Background()))

	l := NewLoaders(&countingContacts{})
	ctx := WithLoaders(context.Background(), l)
	assert.Same(t, l, For(ctx))
}
