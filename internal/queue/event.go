// Package queue defines message payloads exchanged over the message broker
// and the consumer that records them.
package queue

// FlipbookCreatedQueue is the durable queue flipbook lifecycle events go to.
const FlipbookCreatedQueue = "flipbook.created"

// FlipbookCreatedEvent is published once a PDF has been rasterized and its
// flipbook row written.  The title is deliberately absent: it is only ever
// stored encrypted.
type FlipbookCreatedEvent struct {
	FlipbookID uint64 `json:"flipbook_id"`
	UniqueID   string `json:"unique_id"`
	UserID     uint64 `json:"user_id"`
	PageCount  int    `json:"page_count"`
	CreatedAt  string `json:"created_at"`
}
