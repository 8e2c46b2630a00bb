// Package ids generates identifiers for games, revisions and turn revisions.
package ids

import "github.com/google/uuid"

//go:generate mockgen -package=mocks -destination=mocks/mock_ids.go github.com/timeline-party/internal/ids Generator

type Generator interface {
	NewID() string
}

// UUIDGenerator implements the Generator interface with random UUIDs
type UUIDGenerator struct{}

func New() *UUIDGenerator {
	return &UUIDGenerator{}
}

// NewID returns a new UUID
func (g *UUIDGenerator) NewID() string {
	return uuid.New().String()
}
