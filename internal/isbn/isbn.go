// Package isbn converts between the ISBN-10 and ISBN-13 forms of a
// book identifier. Editions carry both forms where possible so either
// can serve as a deduplication key.
package isbn

import (
	"errors"
	"strings"
)

var ErrInvalidISBN = errors.New("isbn: invalid identifier")

// Normalize strips hyphens and spaces and upper-cases a trailing x.
func Normalize(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '-', ' ':
			return -1
		}
		return r
	}, s)
	return strings.ToUpper(s)
}

// ToISBN13 converts an ISBN-10 to its ISBN-13 form.
func ToISBN13(isbn10 string) (string, error) {
	isbn10 = Normalize(isbn10)
	if !ValidISBN10(isbn10) {
		return "", ErrInvalidISBN
	}
	core := "978" + isbn10[:9]
	return core + string(rune('0'+checkDigit13(core))), nil
}

// ToISBN10 converts an ISBN-13 with the 978 prefix to its ISBN-10 form.
// Identifiers with other prefixes have no ISBN-10 form.
func ToISBN10(isbn13 string) (string, error) {
	isbn13 = Normalize(isbn13)
	if !ValidISBN13(isbn13) || !strings.HasPrefix(isbn13, "978") {
		return "", ErrInvalidISBN
	}
	core := isbn13[3:12]
	check := checkDigit10(core)
	if check == 10 {
		return core + "X", nil
	}
	return core + string(rune('0'+check)), nil
}

// ValidISBN10 reports whether s is a well-formed ISBN-10 with a correct
// check digit. The check digit may be X.
func ValidISBN10(s string) bool {
	if len(s) != 10 {
		return false
	}
	for _, r := range s[:9] {
		if r < '0' || r > '9' {
			return false
		}
	}
	check := checkDigit10(s[:9])
	last := s[9]
	if check == 10 {
		return last == 'X'
	}
	return last == byte('0'+check)
}

// ValidISBN13 reports whether s is a well-formed ISBN-13 with a correct
// check digit.
func ValidISBN13(s string) bool {
	if len(s) != 13 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return checkDigit13(s[:12]) == int(s[12]-'0')
}

// checkDigit10 computes the mod-11 check digit over the first nine digits.
// A result of 10 is written as X.
func checkDigit10(digits string) int {
	sum := 0
	for i, r := range digits {
		sum += (10 - i) * int(r-'0')
	}
	return (11 - sum%11) % 11
}

// checkDigit13 computes the EAN-13 check digit over the first twelve digits.
func checkDigit13(digits string) int {
	sum := 0
	for i, r := range digits {
		weight := 1
		if i%2 == 1 {
			weight = 3
		}
		sum += weight * int(r-'0')
	}
	return (10 - sum%10) % 10
}
