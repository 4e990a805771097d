package amqp

import (
	"encoding/json"
	"time"

	"gastos/internal/cache"
)

// CacheInvalidationMessage asks the evictor to drop every cached page of
// the listed month views of one user.
type CacheInvalidationMessage struct {
	UserID    string        `json:"userId"`
	Entries   []cache.Entry `json:"entries"`
	Timestamp time.Time     `json:"timestamp"`
}

func NewCacheInvalidationMessage(userID string, entries []cache.Entry) *CacheInvalidationMessage {
	return &CacheInvalidationMessage{
		UserID:    userID,
		Entries:   append([]cache.Entry(nil), entries...),
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *CacheInvalidationMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// CacheInvalidationMessageFromJSON decodes a message published by ToJSON.
func CacheInvalidationMessageFromJSON(data []byte) (*CacheInvalidationMessage, error) {
	var msg CacheInvalidationMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
