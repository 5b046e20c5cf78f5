package domain

import "encoding/json"

type MessageType string

const (
	MessageProgress MessageType = "progress"
	MessageComplete MessageType = "complete"
	MessageError    MessageType = "error"
)

// Row is one parsed CSV record keyed by header name. Values are never coerced.
type Row map[string]string

// ParseMessage is what the ingestion worker posts back to its caller.
// Exactly one of the progress, complete or error field groups is meaningful,
// selected by Type.
//
// During progress Total equals Parsed: the file's row count is unknown until EOF.
type ParseMessage struct {
	Type    MessageType `json:"type"`
	Parsed  int         `json:"parsed"`
	Total   int         `json:"total"`
	Preview []Row       `json:"preview"`
	Headers []string    `json:"headers"`
	Error   string      `json:"error"`
}

// MarshalJSON writes only the fields of m's variant. Zero counts and empty
// slices are kept, so a complete message always carries preview, total and
// headers.
func (m ParseMessage) MarshalJSON() ([]byte, error) {
	switch m.Type {
	case MessageProgress:
		return json.Marshal(struct {
			Type   MessageType `json:"type"`
			Parsed int         `json:"parsed"`
			Total  int         `json:"total"`
		}{m.Type, m.Parsed, m.Total})
	case MessageComplete:
		preview, headers := m.Preview, m.Headers
		if preview == nil {
			preview = []Row{}
		}
		if headers == nil {
			headers = []string{}
		}
		return json.Marshal(struct {
			Type    MessageType `json:"type"`
			Preview []Row       `json:"preview"`
			Total   int         `json:"total"`
			Headers []string    `json:"headers"`
		}{m.Type, preview, m.Total, headers})
	case MessageError:
		return json.Marshal(struct {
			Type  MessageType `json:"type"`
			Error string      `json:"error"`
		}{m.Type, m.Error})
	}
	type plain ParseMessage
	return json.Marshal(plain(m))
}

func (m ParseMessage) Terminal() bool { return m.Type == MessageComplete || m.Type == MessageError }

func ProgressMessage(n int) ParseMessage {
	return ParseMessage{Type: MessageProgress, Parsed: n, Total: n}
}

func CompleteMessage(preview []Row, total int, headers []string) ParseMessage {
	if preview == nil {
		preview = []Row{}
	}
	if headers == nil {
		headers = []string{}
	}
	return ParseMessage{Type: MessageComplete, Preview: preview, Total: total, Headers: headers}
}

func ErrorMessage(msg string) ParseMessage {
	return ParseMessage{Type: MessageError, Error: msg}
}
