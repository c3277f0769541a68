package odoo

import (
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"

	"github.com/jonahfitia/mobile-app-mavis-chat/internal/chat"
)

// Notification shapes observed on /longpolling/poll, all of which must
// normalize to the same message:
//
//	{"id": 42, "channel": [...], "message": {...}}
//	["db/1/mail.channel", 42, {...}]
//	{"payload": {...}}
//	{...}                                       (the payload itself)
//
// Payloads that are presence or seen events rather than messages carry an
// "info" field and no body/id; they produce no message.

// Parsed is the outcome of normalizing one notification. Message is nil for
// notifications that carry no renderable message (info events, unknown
// shapes, missing ids). Cursor and HasCursor report a sequence number found
// on the notification itself.
type Parsed struct {
	Message   *chat.Message
	Cursor    int64
	HasCursor bool
}

// ParseNotification normalizes one raw notification. It never fails: every
// malformed variant degrades to an empty Parsed so the poll loop can skip
// and continue.
func ParseNotification(raw json.RawMessage, partnerID int64, baseURL string) Parsed {
	var parsed Parsed

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return parsed
	}

	var payload map[string]any
	switch v := decoded.(type) {
	case []any:
		// Positional form: [channel, id, payload].
		if len(v) >= 2 {
			if seq, ok := asInt64(v[1]); ok {
				parsed.Cursor = seq
				parsed.HasCursor = true
			}
		}
		if len(v) >= 3 {
			payload, _ = v[2].(map[string]any)
		}
	case map[string]any:
		if seq, ok := asInt64(v["id"]); ok {
			parsed.Cursor = seq
			parsed.HasCursor = true
		}
		if m, ok := v["message"].(map[string]any); ok {
			payload = m
		} else if m, ok := v["payload"].(map[string]any); ok {
			payload = m
		} else {
			payload = v
		}
	}

	if payload == nil {
		return parsed
	}

	// Presence, typing and seen signals have an info marker and no message
	// body. A bare notification's envelope id is the cursor, not a message
	// id, so it cannot promote an info event into a message.
	if _, hasInfo := payload["info"]; hasInfo && payload["body"] == nil {
		return parsed
	}

	if msg, ok := buildMessage(payload, partnerID, baseURL); ok {
		parsed.Message = &msg
	}
	return parsed
}

// buildMessage converts a message-shaped payload (from history or poll)
// into a domain Message. Returns false when the payload has no usable id
// under either of its aliases.
func buildMessage(payload map[string]any, partnerID int64, baseURL string) (chat.Message, bool) {
	id, ok := messageID(payload)
	if !ok {
		return chat.Message{}, false
	}

	body, _ := payload["body"].(string)
	text := StripHTML(body)
	if text == "" {
		text = "No message"
	}

	date, _ := payload["date"].(string)
	if date == "" {
		date = chat.EpochTime
	}

	authorID, authorName := author(payload["author_id"])

	attField := payload["attachment_ids"]
	if attField == nil {
		attField = payload["attachments_ids"]
	}

	return chat.Message{
		ID:          id,
		Text:        text,
		Time:        date,
		IsMine:      partnerID != 0 && authorID == partnerID,
		Author:      authorName,
		Attachments: NormalizeAttachments(attField, baseURL),
	}, true
}

// messageID resolves the id or message_id alias to a non-empty string.
func messageID(payload map[string]any) (string, bool) {
	for _, key := range []string{"id", "message_id"} {
		switch v := payload[key].(type) {
		case float64:
			if v != 0 {
				return strconv.FormatInt(int64(v), 10), true
			}
		case string:
			if v != "" {
				return v, true
			}
		}
	}
	return "", false
}

// author decodes the backend's [id, label] author pair, tolerating a bare
// id, false, or nothing at all.
func author(field any) (int64, string) {
	switch v := field.(type) {
	case []any:
		var id int64
		var name string
		if len(v) > 0 {
			id, _ = asInt64(v[0])
		}
		if len(v) > 1 {
			name, _ = v[1].(string)
		}
		return id, name
	case float64:
		return int64(v), ""
	default:
		return 0, ""
	}
}

// NormalizeAttachments accepts either a bare id list or a list of
// attachment objects and produces uniform records. For bare ids the
// download URL is synthesized and the id's decimal form stands in for the
// unknown name; for objects the known fields are preserved and only a
// missing URL is synthesized.
func NormalizeAttachments(field any, baseURL string) []chat.Attachment {
	items, ok := field.([]any)
	if !ok || len(items) == 0 {
		return nil
	}

	var out []chat.Attachment
	for _, item := range items {
		switch v := item.(type) {
		case float64:
			id := int64(v)
			out = append(out, chat.Attachment{
				ID:       id,
				URL:      downloadURL(baseURL, id),
				Name:     strconv.FormatInt(id, 10),
				Filename: strconv.FormatInt(id, 10),
			})
		case map[string]any:
			id, _ := asInt64(v["id"])
			name, _ := v["name"].(string)
			filename, _ := v["filename"].(string)
			if name == "" {
				name = filename
			}
			if name == "" {
				name = strconv.FormatInt(id, 10)
			}
			if filename == "" {
				filename = name
			}
			url, _ := v["url"].(string)
			if url == "" {
				url = downloadURL(baseURL, id)
			}
			mimetype, _ := v["mimetype"].(string)
			out = append(out, chat.Attachment{
				ID:       id,
				URL:      url,
				Name:     name,
				Filename: filename,
				Mimetype: mimetype,
			})
		}
	}
	return out
}

func downloadURL(baseURL string, id int64) string {
	return fmt.Sprintf("%s/web/content/%d?download=true", baseURL, id)
}

var tagPattern = regexp.MustCompile(`<[^>]+>`)

// StripHTML reduces an HTML message body to plain text: tags removed,
// entities unescaped, surrounding whitespace trimmed.
func StripHTML(s string) string {
	if s == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(tagPattern.ReplaceAllString(s, "")))
}

func asInt64(v any) (int64, bool) {
	f, ok := v.(float64)
	if !ok {
		return 0, false
	}
	return int64(f), true
}
