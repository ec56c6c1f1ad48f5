package chat

import (
	"context"
	"time"

	"devfusion/app/internal/store"
)

// messageProjection is the joined row shape every transcript query asks
// for: the message, its author's display attributes and its attachments.
const messageProjection = `
	id, user_id, content, created_at,
	user:user_id (id, username, avatar_url, display_color),
	attachments:message_attachments (filename, mime_type, url)
`

// Backend adapts the remote store client to the Store interface the
// engine and composer depend on.
type Backend struct {
	client *store.Client
	bucket string
}

// NewBackend wraps a store client. bucket names the blob bucket that
// receives chat attachments.
func NewBackend(client *store.Client, bucket string) *Backend {
	return &Backend{client: client, bucket: bucket}
}

// RecentMessages fetches the newest page of a project's transcript,
// ordered newest-first.
func (b *Backend) RecentMessages(ctx context.Context, projectID string, limit int) ([]Record, error) {
	var records []Record
	err := b.client.From("chat_messages").
		Select(messageProjection).
		Eq("project_id", projectID).
		Order("created_at", false).
		Limit(limit).
		Get(ctx, &records)
	return records, err
}

// MessagesBefore fetches the page strictly older than cursor, ordered
// newest-first.
func (b *Backend) MessagesBefore(ctx context.Context, projectID string, cursor time.Time, limit int) ([]Record, error) {
	var records []Record
	err := b.client.From("chat_messages").
		Select(messageProjection).
		Eq("project_id", projectID).
		Lt("created_at", cursor.UTC().Format(time.RFC3339Nano)).
		Order("created_at", false).
		Limit(limit).
		Get(ctx, &records)
	return records, err
}

// MessageByID fetches one joined message row. Realtime insert payloads
// carry the bare row, so the engine re-reads through here to pick up the
// author join.
func (b *Backend) MessageByID(ctx context.Context, id string) (*Record, error) {
	var record Record
	err := b.client.From("chat_messages").
		Select(messageProjection).
		Eq("id", id).
		Single().
		Get(ctx, &record)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// InsertMessage persists a new message and returns the stored row.
func (b *Backend) InsertMessage(ctx context.Context, row NewMessageRow) (*Record, error) {
	body := map[string]string{
		"project_id": row.ProjectID,
		"user_id":    row.UserID,
		"content":    row.Content,
	}
	var inserted []Record
	err := b.client.From("chat_messages").Insert(ctx, body, &inserted)
	if err != nil {
		return nil, err
	}
	if len(inserted) == 0 {
		return nil, store.ErrEmptyRepresentation
	}
	return &inserted[0], nil
}

// UploadAttachment writes the file to blob storage under the owning
// message's path, records the attachment row, and returns the public URL.
func (b *Backend) UploadAttachment(ctx context.Context, messageID string, upload Upload) (string, error) {
	path := messageID + "/" + upload.Filename
	bucket := b.client.Storage.From(b.bucket)

	err := bucket.Upload(ctx, path, upload.Content, store.UploadOptions{
		ContentType: upload.MimeType,
		Upsert:      true,
	})
	if err != nil {
		return "", err
	}

	url := bucket.GetPublicURL(path)
	row := map[string]string{
		"message_id": messageID,
		"filename":   upload.Filename,
		"mime_type":  upload.MimeType,
		"url":        url,
	}
	if err := b.client.From("message_attachments").Insert(ctx, row, nil); err != nil {
		return "", err
	}
	return url, nil
}

// SearchMembers prefix-matches the project's member roster for mention
// autocompletion.
func (b *Backend) SearchMembers(ctx context.Context, projectID, prefix string, limit int) ([]Author, error) {
	var rows []struct {
		User AuthorField `json:"user"`
	}
	q := b.client.From("project_members").
		Select(`user:user_id (id, username, avatar_url, display_color)`).
		Eq("project_id", projectID).
		Limit(limit)
	if prefix != "" {
		q = q.Ilike("user.username", prefix+"%")
	}
	if err := q.Get(ctx, &rows); err != nil {
		return nil, err
	}
	authors := make([]Author, 0, len(rows))
	for _, row := range rows {
		authors = append(authors, row.User.Author)
	}
	return authors, nil
}
