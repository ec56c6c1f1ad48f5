package chat

import (
	"context"
	"strings"
	"time"
)

// codeIndicators are the tokens the code heuristic looks for. Multi-line
// text containing any of them gets wrapped in a fenced block before
// persisting.
var codeIndicators = []string{
	"{", "}", "=>", ";",
	"function", "const", "let", "var", "class",
	"import", "#include", "def", "if", "else",
}

// isProbablyCode reports whether text looks like pasted code: it spans
// multiple lines and contains at least one language-like token.
func isProbablyCode(text string) bool {
	if !strings.Contains(strings.TrimSpace(text), "\n") {
		return false
	}
	for _, indicator := range codeIndicators {
		if strings.Contains(text, indicator) {
			return true
		}
	}
	return false
}

// formatOutgoing trims the text and fences it when it classifies as code.
func formatOutgoing(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ""
	}
	if isProbablyCode(text) {
		return "```\n" + trimmed + "\n```"
	}
	return trimmed
}

// Send drives one outbound message through the send pipeline.
//
// Text-only sends persist directly; the transcript picks the message up
// through the realtime insert stream, and a failure is logged without
// restoring the composed text. Sends with files render optimistically
// first: a pending message (status sending, every attachment uploading)
// is appended immediately, the insert confirms the store-issued id in
// place, and each file then uploads independently; one failed upload
// marks only that attachment, never its siblings or the parent's sent
// status. A failed insert fails the whole pending message and skips the
// uploads.
func (e *Engine) Send(ctx context.Context, text string, uploads []Upload) error {
	content := formatOutgoing(text)
	if content == "" && len(uploads) == 0 {
		return nil
	}

	row := NewMessageRow{
		ProjectID: e.projectID,
		UserID:    e.self.ID,
		Content:   content,
	}

	if len(uploads) == 0 {
		if _, err := e.store.InsertMessage(ctx, row); err != nil {
			e.log.LogError(err, "message send failed")
			return err
		}
		e.apply(func() {
			e.viewport.AtBottom = true
			e.publish(Update{Kind: ScrolledToBottom})
		})
		return nil
	}

	pending := Message{
		ID:        NewPendingID(),
		AuthorID:  e.self.ID,
		Author:    e.self,
		Content:   content,
		CreatedAt: time.Now(),
		Status:    StatusSending,
	}
	for _, up := range uploads {
		pending.Attachments = append(pending.Attachments, Attachment{
			Filename: up.Filename,
			MimeType: up.MimeType,
			Status:   UploadInProgress,
		})
	}
	correlation := pending.ID.Correlation

	e.applyWait(func() {
		e.messages = append(e.messages, pending)
		e.viewport.AtBottom = true
		e.viewport.ContentHeight = e.totalHeight()
		appended := pending
		e.publish(Update{Kind: MessageAppended, Message: &appended})
		e.publish(Update{Kind: ScrolledToBottom})
	})

	record, err := e.store.InsertMessage(ctx, row)
	if err != nil {
		e.log.LogError(err, "message insert failed", "correlation", correlation)
		e.patchByCorrelation(correlation, func(m *Message) {
			m.Status = StatusFailed
			for i := range m.Attachments {
				m.Attachments[i].Status = UploadFailed
			}
		})
		return err
	}

	// Swap the temporary id for the store-issued one. Keyed by the stable
	// correlation id, so exactly one entry survives even if the realtime
	// echo landed first.
	serverID := record.ID
	e.patchByCorrelation(correlation, func(m *Message) {
		m.ID.Server = serverID
		m.CreatedAt = record.CreatedAt
		m.Status = StatusSent
	})

	for i, up := range uploads {
		index := i
		url, upErr := e.store.UploadAttachment(ctx, serverID, up)
		if upErr != nil {
			e.log.LogError(upErr, "attachment upload failed",
				"message_id", serverID,
				"filename", up.Filename,
			)
			e.patchByCorrelation(correlation, func(m *Message) {
				m.Attachments[index].Status = UploadFailed
			})
			continue
		}
		e.patchByCorrelation(correlation, func(m *Message) {
			m.Attachments[index].Status = UploadDone
			m.Attachments[index].URL = url
		})
	}
	return nil
}

// patchByCorrelation applies fn to the message with the given correlation
// id, if it is still visible, and publishes the patch.
func (e *Engine) patchByCorrelation(correlation string, fn func(*Message)) {
	e.applyWait(func() {
		for i := range e.messages {
			if e.messages[i].ID.Correlation != correlation {
				continue
			}
			fn(&e.messages[i])
			patched := e.messages[i]
			e.publish(Update{Kind: MessagePatched, Message: &patched})
			return
		}
	})
}
