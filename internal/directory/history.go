package directory

import (
	"context"
	"fmt"
	"net/url"

	"arcadechat/internal/session"
	"arcadechat/internal/transport"
)

// apiChatMessage is a persisted message record as the server returns it.
type apiChatMessage struct {
	Sender  string `json:"sender"`
	Message string `json:"message"`
}

// LoadHistory fetches persisted messages for a session. A "session not found"
// response is not an error: it means a new, empty session and resolves to a
// nil slice. Any other failure propagates to the caller.
func (d *Directory) LoadHistory(ctx context.Context, sessionID string, limit int) ([]session.Message, error) {
	ctx, span := d.tracer.Start(ctx, "history_load")
	defer span.End()

	endpoint := fmt.Sprintf("%s/api/chat/sessions/%s/messages?limit=%d",
		d.baseURL, url.PathEscape(sessionID), limit)

	var records []apiChatMessage
	if err := d.getJSON(ctx, endpoint, &records); err != nil {
		if transport.IsNotFound(err) {
			d.logger.Debug("no history for session", "session_id", sessionID)
			return nil, nil
		}
		return nil, fmt.Errorf("load history: %w", err)
	}

	messages := make([]session.Message, 0, len(records))
	for _, rec := range records {
		sender := session.SenderBot
		if rec.Sender == "user" {
			sender = session.SenderUser
		}
		messages = append(messages, session.Message{Sender: sender, Text: rec.Message})
	}

	d.logger.Debug("loaded history", "session_id", sessionID, "count", len(messages))
	return messages, nil
}
