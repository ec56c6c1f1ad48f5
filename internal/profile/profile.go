// Package profile manages the extended user record: avatar uploads,
// display color, email and the GitHub connection. Profile writes are what
// feed the realtime update stream the chat transcript patches authors
// from.
package profile

import (
	"context"
	"fmt"
	"io"
	"path"

	"devfusion/app/internal/store"
	"devfusion/app/pkg/errors"
	"devfusion/app/pkg/logger"
)

// Service performs profile mutations against the remote store.
type Service struct {
	client       *store.Client
	avatarBucket string
	log          *logger.Logger
}

func NewService(client *store.Client, avatarBucket string, log *logger.Logger) *Service {
	return &Service{client: client, avatarBucket: avatarBucket, log: log}
}

// UploadAvatar writes the image to the avatar bucket under the user's id,
// then records the public URL on the users row. Returns the URL.
func (s *Service) UploadAvatar(ctx context.Context, userID, filename, contentType string, r io.Reader) (string, error) {
	objectPath := userID + "/avatar" + path.Ext(filename)
	bucket := s.client.Storage.From(s.avatarBucket)

	err := bucket.Upload(ctx, objectPath, r, store.UploadOptions{
		CacheControl: "3600",
		ContentType:  contentType,
		Upsert:       true,
		Metadata:     map[string]string{"owner": userID},
	})
	if err != nil {
		return "", errors.NewRemoteStoreError("uploading avatar", err)
	}

	url := bucket.GetPublicURL(objectPath)
	if err := s.update(ctx, userID, map[string]any{"avatar_url": url}); err != nil {
		return "", err
	}
	s.log.Info("avatar updated", "user_id", userID)
	return url, nil
}

// SetDisplayColor updates the color other members see the user's name in.
func (s *Service) SetDisplayColor(ctx context.Context, userID, color string) error {
	if !validHexColor(color) {
		return errors.NewBadRequestError("INVALID_COLOR",
			fmt.Sprintf("%q is not a hex color", color))
	}
	return s.update(ctx, userID, map[string]any{"display_color": color})
}

// SetEmail updates the email on the extended profile row. The auth
// record's email is owned by the store's auth surface and not touched
// here.
func (s *Service) SetEmail(ctx context.Context, userID, email string) error {
	if email == "" {
		return errors.NewBadRequestError("EMPTY_EMAIL", "email is required")
	}
	return s.update(ctx, userID, map[string]any{"email": email})
}

// DisconnectGitHub clears the stored OAuth token.
func (s *Service) DisconnectGitHub(ctx context.Context, userID string) error {
	if err := s.update(ctx, userID, map[string]any{"github_token": nil}); err != nil {
		return err
	}
	s.log.Info("github disconnected", "user_id", userID)
	return nil
}

// ConnectGitHub stores the OAuth token obtained from the redirect landing.
func (s *Service) ConnectGitHub(ctx context.Context, userID, token string) error {
	if token == "" {
		return errors.NewBadRequestError("EMPTY_TOKEN", "GitHub token is required")
	}
	return s.update(ctx, userID, map[string]any{"github_token": token})
}

func (s *Service) update(ctx context.Context, userID string, patch map[string]any) error {
	err := s.client.From("users").
		Eq("id", userID).
		Update(ctx, patch, nil)
	if err != nil {
		return errors.NewRemoteStoreError("updating profile", err)
	}
	return nil
}

func validHexColor(color string) bool {
	if len(color) != 7 && len(color) != 4 {
		return false
	}
	if color[0] != '#' {
		return false
	}
	for _, c := range color[1:] {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
