// Package customer validates Indian mobile numbers and attaches customers
// to a sale through the inventory backend.
package customer

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"retailpos/backend/internal/domain"
)

var ErrInvalidPhone = errors.New("invalid mobile number")

var mobilePattern = regexp.MustCompile(`^[6-9]\d{9}$`)

// NormalizePhone strips separators and the +91/91 country code and returns
// the 10-digit mobile number.
func NormalizePhone(raw string) (string, error) {
	phone := strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(raw))
	switch {
	case strings.HasPrefix(phone, "+91"):
		phone = strings.TrimPrefix(phone, "+91")
	case strings.HasPrefix(phone, "91") && len(phone) == 12:
		phone = strings.TrimPrefix(phone, "91")
	}
	if !mobilePattern.MatchString(phone) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, raw)
	}
	return phone, nil
}

type Finder interface {
	FindOrCreateCustomer(ctx context.Context, req domain.CustomerLookupRequest) (*domain.Customer, error)
}

type Service struct {
	finder Finder
}

func NewService(finder Finder) *Service {
	return &Service{finder: finder}
}

// FindOrCreate normalizes the phone before asking the backend, so the same
// customer is found however the number was typed.
func (s *Service) FindOrCreate(ctx context.Context, phone string, name string) (domain.Customer, error) {
	normalized, err := NormalizePhone(phone)
	if err != nil {
		return domain.Customer{}, err
	}
	customer, err := s.finder.FindOrCreateCustomer(ctx, domain.CustomerLookupRequest{
		Phone: normalized,
		Name:  strings.TrimSpace(name),
	})
	if err != nil {
		return domain.Customer{}, fmt.Errorf("find or create customer: %w", err)
	}
	if customer == nil {
		return domain.Customer{}, errors.New("find or create customer: empty response")
	}
	return *customer, nil
}
