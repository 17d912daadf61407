package domain

import (
	"fmt"
	"strings"
	"time"
)

const (
	minPhoneDigits = 8
	maxPhoneDigits = 15
)

// Contact is a phone-addressable recipient identity within a tenant.
type Contact struct {
	ID         string
	TenantID   string
	Phone      string
	Name       string
	Attributes map[string]string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NormalizePhone strips formatting and returns the E.164 digits without the
// leading plus sign, the form WhatsApp providers address recipients by.
func NormalizePhone(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: phone is required", ErrValidation)
	}

	var b strings.Builder
	for i, r := range trimmed {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return "", fmt.Errorf("%w: phone %q contains invalid character %q", ErrValidation, raw, r)
		}
	}

	digits := strings.TrimPrefix(b.String(), "00")
	if len(digits) < minPhoneDigits || len(digits) > maxPhoneDigits {
		return "", fmt.Errorf("%w: phone %q must have %d-%d digits", ErrValidation, raw, minPhoneDigits, maxPhoneDigits)
	}
	if digits[0] == '0' {
		return "", fmt.Errorf("%w: phone %q must include the country code", ErrValidation, raw)
	}

	return digits, nil
}

func (c *Contact) Validate() error {
	if strings.TrimSpace(c.TenantID) == "" {
		return fmt.Errorf("%w: tenant is required", ErrValidation)
	}
	phone, err := NormalizePhone(c.Phone)
	if err != nil {
		return err
	}
	c.Phone = phone
	c.Name = strings.TrimSpace(c.Name)
	return nil
}

// TemplateValues returns the values a template variable key can resolve to
// for this contact. Attributes win over the built-in name and phone keys.
func (c *Contact) TemplateValues() map[string]string {
	values := make(map[string]string, len(c.Attributes)+2)
	values["name"] = c.Name
	values["phone"] = c.Phone
	for k, v := range c.Attributes {
		values[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return values
}
