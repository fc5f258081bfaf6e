package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ProviderStateKind различает, на каком этапе двухфазного протокола находится платёж
type ProviderStateKind string

const (
	// ProviderPending3DS - initialize прошёл, ждём возврата покупателя с 3-D Secure
	ProviderPending3DS ProviderStateKind = "pending_3ds"
	// ProviderThreeDSReturned - покупатель вернулся с 3-D Secure успешно, можно делать capture
	ProviderThreeDSReturned ProviderStateKind = "3ds_returned"
	// ProviderAuthorized - confirm и approval прошли
	ProviderAuthorized ProviderStateKind = "authorized"
	// ProviderFailed - провайдер отклонил запрос; capture по такому состоянию не выполняется
	ProviderFailed ProviderStateKind = "failed"
)

var ErrEmptyProviderState = errors.New("provider state is empty")

// ProviderState - сохраняемое между запросами состояние протокола с провайдером.
// Хранится строкой в Payment.GatewayResponse.
type ProviderState struct {
	Kind             ProviderStateKind `json:"kind"`
	ConversationID   string            `json:"conversation_id,omitempty"`
	PaymentID        string            `json:"payment_id,omitempty"`
	ConversationData string            `json:"conversation_data,omitempty"`
	MDStatus         string            `json:"md_status,omitempty"`
	Message          string            `json:"message,omitempty"`
	Response         json.RawMessage   `json:"response,omitempty"`
}

func (s ProviderState) Encode() (string, error) {
	if s.Kind == "" {
		return "", ErrEmptyProviderState
	}
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeProviderState разбирает сохранённый blob; неизвестный kind считается ошибкой
func DecodeProviderState(blob string) (ProviderState, error) {
	var s ProviderState
	if blob == "" {
		return s, ErrEmptyProviderState
	}
	if err := json.Unmarshal([]byte(blob), &s); err != nil {
		return s, fmt.Errorf("decode provider state: %w", err)
	}
	switch s.Kind {
	case ProviderPending3DS, ProviderThreeDSReturned, ProviderAuthorized, ProviderFailed:
		return s, nil
	default:
		return s, fmt.Errorf("decode provider state: unknown kind %q", s.Kind)
	}
}
