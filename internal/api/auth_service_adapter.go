package api

import (
	"context"

	"github.com/soaringjerry/Mindwell/internal/db"
	"github.com/soaringjerry/Mindwell/internal/services"
)

type authStoreAdapter struct {
	store Store
}

func newAuthStoreAdapter(store Store) services.AuthStore {
	return &authStoreAdapter{store: store}
}

func (a *authStoreAdapter) FindUserByEmail(ctx context.Context, email string) (*services.User, error) {
	docs, err := a.store.Query(ctx, services.UsersCollection, db.Filter{"email": email})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	u, err := decodeOne[services.User](docs[0])
	if err != nil {
		return nil, err
	}
	u.ID = docs[0].ID()
	return u, nil
}

func (a *authStoreAdapter) AddUser(ctx context.Context, u *services.User) error {
	if u == nil || u.ID == "" {
		return services.NewInvalidError("user required")
	}
	return a.store.Upsert(ctx, services.UsersCollection, u.ID, u)
}

var _ services.AuthStore = (*authStoreAdapter)(nil)
