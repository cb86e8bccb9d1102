package loaders

import (
	"context"
	"fmt"

	"github.com/graph-gophers/dataloader/v7"

	"github.com/zatekoja/patientjourney/internal/domain/entities"
	"github.com/zatekoja/patientjourney/internal/domain/repositories"
	apperrors "github.com/zatekoja/patientjourney/pkg/errors"
)

type ctxKey string

const loadersKey ctxKey = "dataloaders"

// Loaders contains the dataloaders used while draining the notification queue
type Loaders struct {
	ContactLoader *dataloader.Loader[string, *entities.PatientContact]
}

// NewLoaders creates a new instance of Loaders. Loaders cache for their whole
// lifetime, so create one per unit of work.
func NewLoaders(contactRepo repositories.ContactRepository) *Loaders {
	return &Loaders{
		ContactLoader: dataloader.NewBatchedLoader(func(ctx context.Context, keys []string) []*dataloader.Result[*entities.PatientContact] {
			results := make([]*dataloader.Result[*entities.PatientContact], len(keys))
			contacts, err := contactRepo.GetByJourneyIDs(ctx, keys)

			for i, key := range keys {
				if err != nil {
					results[i] = &dataloader.Result[*entities.PatientContact]{Error: fmt.Errorf("load patient contacts: %w", err)}
				} else if c, ok := contacts[key]; ok {
					results[i] = &dataloader.Result[*entities.PatientContact]{Data: c}
				} else {
					results[i] = &dataloader.Result[*entities.PatientContact]{
						Error: apperrors.NewNotFoundError(fmt.Sprintf("no patient contact found for journey %s", key)),
					}
				}
			}
			return results
		}),
	}
}

// For returns the loaders for a given context, or nil
func For(ctx context.Context) *Loaders {
	l, _ := ctx.Value(loadersKey).(*Loaders)
	return l
}

// WithLoaders returns a new context with the loaders attached
func WithLoaders(ctx context.Context, loaders *Loaders) context.Context {
	return context.WithValue(ctx, loadersKey, loaders)
}
