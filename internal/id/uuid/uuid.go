// Package uuid issues the identifiers that correlate crawl runs and API requests in logs.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates time-ordered UUIDv7 strings.
type Generator struct{}

// NewUUIDGenerator creates a new Generator.
func NewUUIDGenerator() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv7 string, falling back to a random v4 when the v7 clock source fails.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err == nil {
		return id.String(), nil
	}
	fallback, v4Err := uuid.NewRandom()
	if v4Err != nil {
		return "", fmt.Errorf("generate uuid: %w", v4Err)
	}
	return fallback.String(), nil
}

// MustNewID is NewID for call sites that only use the value as a log correlation key.
func (g Generator) MustNewID() string {
	id, err := g.NewID()
	if err != nil {
		return "unknown"
	}
	return id
}
