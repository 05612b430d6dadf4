package model

import (
	"encoding/json"
)

// CreateClientPayload is the body of a client creation request
type CreateClientPayload struct {
	ClientName string   `json:"clientName" validate:"required,max=128"`
	Protocol   Protocol `json:"protocol" validate:"required,protocol"`
	ExpiresAt  *int64   `json:"expiresAt"`
	// Email and TelegramUserID optionally receive the share link.
	Email          string `json:"email" validate:"omitempty,email"`
	TelegramUserID int64  `json:"telegramUserId"`
}

// UpdateClientPayload is the body of a client update request
type UpdateClientPayload struct {
	ClientID  string        `json:"clientId" validate:"required"`
	Protocol  Protocol      `json:"protocol" validate:"required,protocol"`
	ExpiresAt OptionalInt64 `json:"expiresAt"`
	Status    *PeerStatus   `json:"status" validate:"omitempty,oneof=active disabled"`
}

// DeleteClientPayload is the body of a client deletion request
type DeleteClientPayload struct {
	ClientID string   `json:"clientId" validate:"required"`
	Protocol Protocol `json:"protocol" validate:"required,protocol"`
}

// OptionalInt64 tells an absent JSON field apart from an explicit null.
type OptionalInt64 struct {
	Set   bool
	Value *int64
}

func (o *OptionalInt64) UnmarshalJSON(data []byte) error {
	o.Set = true
	if string(data) == "null" {
		o.Value = nil
		return nil
	}
	var v int64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	o.Value = &v
	return nil
}

func (o OptionalInt64) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.Value)
}
