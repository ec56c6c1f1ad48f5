package session

import (
	"context"

	"devfusion/app/internal/store"
)

// Backend adapts the store client to the Store interface the manager
// depends on.
type Backend struct {
	client *store.Client
}

// NewBackend wraps a store client.
func NewBackend(client *store.Client) *Backend {
	return &Backend{client: client}
}

func (b *Backend) GetSession() *store.Session {
	return b.client.Auth.GetSession()
}

func (b *Backend) OnAuthStateChange(fn func(store.AuthEvent, *store.Session)) func() {
	return b.client.Auth.OnAuthStateChange(fn)
}

// FetchProfile loads the extended users row for an identity id.
func (b *Backend) FetchProfile(ctx context.Context, userID string) (*Profile, error) {
	var profile Profile
	err := b.client.From("users").
		Select("username, email, avatar_url, display_color, github_token").
		Eq("id", userID).
		Single().
		Get(ctx, &profile)
	if err != nil {
		return nil, err
	}
	return &profile, nil
}
