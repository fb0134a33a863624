// Package ids issues time-ordered identifiers for persisted records.
package ids

import "github.com/google/uuid"

// UUIDProvider issues UUIDv7 identifiers.
type UUIDProvider struct{}

// NewUUIDProvider constructs a UUIDProvider.
func NewUUIDProvider() *UUIDProvider {
	return &UUIDProvider{}
}

// NewID returns a fresh time-ordered identifier.
func (p *UUIDProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
