package model

// Error texts the relay answers with when its credentials are not set. They
// come back with a 500 and are told apart from upstream failures by text.
const (
	MsgMissingAPIKey    = "API key not configured."
	MsgMissingProjectID = "Project ID not configured."
)

// Request kinds understood by the relay.
const (
	RequestChat  = "chat"
	RequestImage = "image"
)

// TextPart is the upstream-facing shape of a message part. It only carries
// text; the client-side content type never leaves the client.
type TextPart struct {
	Text string `json:"text"`
}

// Content is one role-tagged entry of the chat history sent to the relay.
type Content struct {
	Role  string     `json:"role" validate:"required,oneof=user model"`
	Parts []TextPart `json:"parts" validate:"required,min=1"`
}

// RelayRequest is the body of POST /api/proxy.
type RelayRequest struct {
	Type    string    `json:"type,omitempty" example:"chat"`
	History []Content `json:"history,omitempty" validate:"omitempty,dive"`
	Prompt  string    `json:"prompt,omitempty" example:"a cat"`
}

// Kind returns RequestImage when the request asks for an image and
// RequestChat otherwise.
func (r *RelayRequest) Kind() string {
	if r.Type == RequestImage {
		return RequestImage
	}
	return RequestChat
}

// RelayResponse is the success body of POST /api/proxy. Response holds plain
// text for chat and base64 image bytes for image requests.
type RelayResponse struct {
	Response string `json:"response"`
	Type     string `json:"type" example:"chat"`
}

// HistoryFromMessages converts stored messages into relay history. Image
// messages are left out: their payload is not conversational text.
func HistoryFromMessages(messages []Message) []Content {
	history := make([]Content, 0, len(messages))
	for _, msg := range messages {
		if msg.ContentType() != ContentChat {
			continue
		}
		parts := make([]TextPart, 0, len(msg.Parts))
		for _, p := range msg.Parts {
			parts = append(parts, TextPart{Text: p.Text})
		}
		history = append(history, Content{Role: string(msg.Role), Parts: parts})
	}
	return history
}
