package models

import (
	"encoding/json"
	"time"
)

// Envelope is a stored, encrypted message plus routing metadata.
type Envelope struct {
	ID         string    `json:"id"`  // 16 random bytes, hex
	Seq        string    `json:"seq"` // ULID carrying CreatedAt, orders the indexes
	From       string    `json:"from"`
	To         string    `json:"to"`
	CreatedAt  time.Time `json:"created_at"`
	CipherText string    `json:"cipher_text"`
	IV         string    `json:"iv"`
}

// Message is a decrypted envelope as returned to its recipient.
type Message struct {
	ID        string          `json:"id"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Timestamp int64           `json:"timestamp"` // Unix ms
	Content   json.RawMessage `json:"content"`
}
