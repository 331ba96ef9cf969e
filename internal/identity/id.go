package identity

import "github.com/google/uuid"

const customerIDPrefix = "customer_"

// IDProvider mints identifiers for newly discovered customers.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7-backed customer ids.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return customerIDPrefix + value.String(), nil
}
