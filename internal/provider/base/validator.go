package base

import (
	"fmt"
	"regexp"
	"strings"
)

var iccidPattern = regexp.MustCompile(`^89\d{17,18}$`)

// ValidICCID reports whether s looks like an issued SIM identifier
// (89 prefix, 19-20 digits total).
func ValidICCID(s string) bool {
	return iccidPattern.MatchString(strings.TrimSpace(s))
}

// RequestValidator checks adapter order requests before any remote call.
type RequestValidator struct {
	maxQuantity int
}

// NewRequestValidator creates a validator with a per-call quantity ceiling.
func NewRequestValidator(maxQuantity int) *RequestValidator {
	if maxQuantity <= 0 {
		maxQuantity = 50
	}
	return &RequestValidator{maxQuantity: maxQuantity}
}

// ValidateCreateOrder rejects obviously malformed order requests locally so a
// bad request never burns a failover attempt.
func (v *RequestValidator) ValidateCreateOrder(packageSKU string, quantity int) error {
	if strings.TrimSpace(packageSKU) == "" {
		return fmt.Errorf("package SKU is required")
	}
	if quantity < 1 {
		return fmt.Errorf("quantity must be at least 1, got %d", quantity)
	}
	if quantity > v.maxQuantity {
		return fmt.Errorf("quantity %d exceeds per-order limit %d", quantity, v.maxQuantity)
	}
	return nil
}
