package domain

import "encoding/json"

type PendingActionType string

const (
	ActionSavePreview PendingActionType = "savePreview"
	ActionRedirect    PendingActionType = "redirect"
)

// PendingAction is the intent persisted across an auth redirect. Payload holds
// the type-specific fields; unknown types are kept verbatim.
type PendingAction struct {
	Type    PendingActionType `json:"type"`
	Payload json.RawMessage   `json:"payload,omitempty"`
}

type SavePreviewPayload struct {
	PlaceID  string `json:"placeId"`
	Name     string `json:"name,omitempty"`
	Platform string `json:"platform,omitempty"`
	URL      string `json:"url,omitempty"`
}

type RedirectPayload struct {
	To string `json:"to"`
}

func NewPendingAction(t PendingActionType, payload any) (PendingAction, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return PendingAction{}, err
	}
	return PendingAction{Type: t, Payload: b}, nil
}
