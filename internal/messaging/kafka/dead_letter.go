package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotDeadLetter означает, что сообщение не похоже на событие outbox, отправленное в DLQ.
var ErrNotDeadLetter = errors.New("message is not an outbox dead letter")

// DecodeDeadLetter разбирает сообщение из TopicDeadLetterQueue: конверт OrderEventEnvelope,
// в payload которого лежит DeadLetter с исходным событием.
func DecodeDeadLetter(value []byte) (DeadLetter, error) {
	var envelope OrderEventEnvelope
	if err := json.Unmarshal(value, &envelope); err != nil || len(envelope.Payload) == 0 {
		return DeadLetter{}, ErrNotDeadLetter
	}

	var letter DeadLetter
	if err := json.Unmarshal(envelope.Payload, &letter); err != nil {
		return DeadLetter{}, fmt.Errorf("decode dead letter payload: %w", err)
	}
	if len(letter.Payload) == 0 {
		return DeadLetter{}, errors.New("dead letter does not contain original event payload")
	}

	letter.OutboxID = firstNonEmpty(letter.OutboxID, envelope.ID)
	letter.AggregateType = firstNonEmpty(letter.AggregateType, envelope.AggregateType)
	letter.AggregateID = firstNonEmpty(letter.AggregateID, envelope.AggregateID)
	letter.EventType = firstNonEmpty(letter.EventType, envelope.EventType)
	return letter, nil
}

// RedriveEnvelope восстанавливает исходное событие для повторной публикации.
func RedriveEnvelope(letter DeadLetter, now time.Time) OrderEventEnvelope {
	original := letter.Original()
	return OrderEventEnvelope{
		ID:            original.ID,
		AggregateType: original.AggregateType,
		AggregateID:   original.AggregateID,
		EventType:     original.EventType,
		Payload:       json.RawMessage(original.Payload),
		PublishedAt:   now.UTC(),
	}
}

// RedriveHeaders возвращает заголовки повторно опубликованного события.
func RedriveHeaders(letter DeadLetter) map[string]string {
	return map[string]string{
		HeaderEventType:     letter.EventType,
		HeaderAggregateType: letter.AggregateType,
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
