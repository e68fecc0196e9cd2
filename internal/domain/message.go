package domain

import "encoding/json"

// Role identifies the author of a message on the wire.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Message is a wire-level ACP message: a role plus ordered parts.
type Message struct {
	Role  Role          `json:"role"`
	Parts []MessagePart `json:"parts"`
}

// MessagePart is a single typed part of an ACP message.
type MessagePart struct {
	ContentType     string          `json:"content_type"`
	Content         string          `json:"content,omitempty"`
	ContentURL      string          `json:"content_url,omitempty"`
	ContentEncoding string          `json:"content_encoding,omitempty"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
}

// TextPart builds a text/plain part.
func TextPart(text string) MessagePart {
	return MessagePart{ContentType: "text/plain", Content: text}
}

// JSONPart builds an application/json part from an already-encoded value.
func JSONPart(content string, metadata json.RawMessage) MessagePart {
	return MessagePart{ContentType: "application/json", Content: content, Metadata: metadata}
}

// ImagePart builds a base64-encoded image part.
func ImagePart(data, mimeType string) MessagePart {
	return MessagePart{ContentType: mimeType, Content: data, ContentEncoding: "base64"}
}
