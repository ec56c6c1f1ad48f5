// Package chat implements the message synchronization engine: a live,
// ordered, deduplicated transcript for one project's chat, reconciling
// paginated history, realtime inserts and author profile updates against a
// single in-memory list, and driving the optimistic send pipeline.
package chat

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DeliveryStatus is the lifecycle of an outbound message's text portion.
type DeliveryStatus string

const (
	StatusSending DeliveryStatus = "sending"
	StatusSent    DeliveryStatus = "sent"
	StatusFailed  DeliveryStatus = "failed"
)

// UploadStatus is the independent lifecycle of one attachment.
type UploadStatus string

const (
	UploadInProgress UploadStatus = "uploading"
	UploadDone       UploadStatus = "uploaded"
	UploadFailed     UploadStatus = "failed"
)

// Author carries the denormalized display attributes copied onto each
// message. Profile updates patch these in place on rendered messages.
type Author struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	AvatarURL    string `json:"avatar_url"`
	DisplayColor string `json:"display_color"`
}

// AuthorField absorbs the store's join-cardinality quirk: the embedded
// author arrives as a single object or a one-element array depending on
// how the relation was resolved. Unmarshalling is total; either shape
// reduces to an Author.
type AuthorField struct {
	Author Author
}

func (f *AuthorField) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '[' {
		var list []Author
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		if len(list) > 0 {
			f.Author = list[0]
		}
		return nil
	}
	return json.Unmarshal(data, &f.Author)
}

func (f AuthorField) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.Author)
}

// MessageID tags a message as pending (local correlation id only) or
// confirmed (store-issued id). The correlation id is stable across the
// swap, so merge and dedup logic keys off it until confirmation and off
// the server id afterwards.
type MessageID struct {
	Correlation string `json:"correlation,omitempty"`
	Server      string `json:"server,omitempty"`
}

// NewPendingID mints the identity for an optimistic message.
func NewPendingID() MessageID {
	return MessageID{Correlation: uuid.NewString()}
}

// ConfirmedID wraps a store-issued id with no local correlation.
func ConfirmedID(server string) MessageID {
	return MessageID{Server: server}
}

// Confirmed reports whether the store has issued an id.
func (id MessageID) Confirmed() bool { return id.Server != "" }

// Key is the dedup key: the server id once confirmed, else the
// correlation id.
func (id MessageID) Key() string {
	if id.Server != "" {
		return id.Server
	}
	return id.Correlation
}

// Attachment is one file attached to a message. Its upload lifecycle is
// independent of the owning message's delivery status.
type Attachment struct {
	Filename string       `json:"filename"`
	MimeType string       `json:"mime_type"`
	Status   UploadStatus `json:"status"`
	URL      string       `json:"url,omitempty"`
}

// Message is one transcript entry.
type Message struct {
	ID          MessageID      `json:"id"`
	AuthorID    string         `json:"author_id"`
	Author      Author         `json:"author"`
	Content     string         `json:"content"`
	CreatedAt   time.Time      `json:"created_at"`
	Status      DeliveryStatus `json:"status"`
	Attachments []Attachment   `json:"attachments,omitempty"`
}

// Record is a joined message row as the store returns it.
type Record struct {
	ID          string             `json:"id"`
	UserID      string             `json:"user_id"`
	Content     string             `json:"content"`
	CreatedAt   time.Time          `json:"created_at"`
	User        AuthorField        `json:"user"`
	Attachments []AttachmentRecord `json:"attachments"`
}

// AttachmentRecord is a stored attachment row.
type AttachmentRecord struct {
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	URL      string `json:"url"`
}

// normalize converts a store row into a transcript message. Stored rows
// are confirmed and sent by definition; their attachments are uploaded.
func normalize(rec Record) Message {
	author := rec.User.Author
	if author.ID == "" {
		author.ID = rec.UserID
	}
	msg := Message{
		ID:        ConfirmedID(rec.ID),
		AuthorID:  rec.UserID,
		Author:    author,
		Content:   rec.Content,
		CreatedAt: rec.CreatedAt,
		Status:    StatusSent,
	}
	for _, att := range rec.Attachments {
		msg.Attachments = append(msg.Attachments, Attachment{
			Filename: att.Filename,
			MimeType: att.MimeType,
			Status:   UploadDone,
			URL:      att.URL,
		})
	}
	return msg
}
