package transport

import (
	"encoding/json"
	"fmt"
)

// Envelope формат сообщения на шине: {type, correlationId, data}
type Envelope struct {
	Type          string          `json:"type"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
}

// replyFields служебные поля внутри data
type replyFields struct {
	ReplyTo string `json:"replyTo,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NewEnvelope создает конверт, сериализуя data
func NewEnvelope(msgType, correlationID string, data any) (*Envelope, error) {
	raw, err := Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: msgType, CorrelationID: correlationID, Data: raw}, nil
}

// DecodeEnvelope разбирает тело сообщения
func DecodeEnvelope(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("invalid envelope: type is empty")
	}
	return &env, nil
}

// Decode разбирает data в v
func (e *Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("envelope %s has no data", e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s data: %w", e.Type, err)
	}
	return nil
}

// ReplyTo возвращает data.replyTo
func (e *Envelope) ReplyTo() string {
	return e.fields().ReplyTo
}

// ErrorMessage возвращает data.error, выставленный отвечающей стороной
func (e *Envelope) ErrorMessage() string {
	return e.fields().Error
}

func (e *Envelope) fields() replyFields {
	var f replyFields
	if len(e.Data) > 0 {
		_ = json.Unmarshal(e.Data, &f)
	}
	return f
}

// MergeData сериализует payload в JSON-объект и добавляет в него поля extra.
// Payload обязан быть объектом.
func MergeData(payload any, extra map[string]any) (json.RawMessage, error) {
	raw, err := Marshal(payload)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("payload must be a JSON object: %w", err)
	}
	for k, v := range extra {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal field %s: %w", k, err)
		}
		fields[k] = b
	}
	return json.Marshal(fields)
}
