package models

import (
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// GuestName is the placeholder written into orders with no identified customer.
const GuestName = "Khách lẻ"

// PassingGuestName is the backend's other guest sentinel.
const PassingGuestName = "Khách vãng lai"

var placeholderNames = []string{GuestName, PassingGuestName}

var folder = cases.Fold()

// NormalizeName trims, NFC-composes and case-folds a display name so names
// typed with different casing or combining marks compare equal.
func NormalizeName(s string) string {
	s = strings.TrimSpace(norm.NFC.String(s))
	s = strings.Join(strings.Fields(s), " ")
	return folder.String(s)
}

// IsPlaceholderName reports whether name denotes an unidentified customer.
// The empty name counts as a placeholder.
func IsPlaceholderName(name string) bool {
	n := NormalizeName(name)
	if n == "" {
		return true
	}
	for _, p := range placeholderNames {
		if n == NormalizeName(p) {
			return true
		}
	}
	return false
}

type Customer struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// ValidForDisplay reports id > 0 and at least a name or phone.
func (c Customer) ValidForDisplay() bool {
	return c.ID > 0 && (strings.TrimSpace(c.Name) != "" || strings.TrimSpace(c.Phone) != "")
}

// IsGuest reports whether the customer is the guest sentinel (a reset
// signal): a non-positive id or one of the placeholder names. A missing name
// alone does not make a customer the guest.
func (c Customer) IsGuest() bool {
	if c.ID <= 0 {
		return true
	}
	return strings.TrimSpace(c.Name) != "" && IsPlaceholderName(c.Name)
}

// DisplayName falls back to the guest placeholder.
func (c Customer) DisplayName() string {
	if strings.TrimSpace(c.Name) == "" {
		return GuestName
	}
	return c.Name
}

// Keys returns the CustomerIndex keys this customer is stored under.
func (c Customer) Keys() []string {
	keys := []string{IDKey(c.ID)}
	if c.Phone != "" {
		keys = append(keys, PhoneKey(c.Phone))
	}
	if c.Email != "" {
		keys = append(keys, EmailKey(c.Email))
	}
	return keys
}

func IDKey(id int) string { return "id:" + strconv.Itoa(id) }

func PhoneKey(phone string) string { return "phone:" + strings.TrimSpace(phone) }

func EmailKey(email string) string { return "email:" + strings.ToLower(strings.TrimSpace(email)) }
