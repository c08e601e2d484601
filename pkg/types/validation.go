package types

import (
	"fmt"
	"regexp"
)

// Compiled once; same pattern the target service applies on signup
var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Validate checks the fields the target service rejects with 400
func (c Credentials) Validate() error {
	if c.Username == "" {
		return ErrEmptyUsername
	}
	if c.Password == "" {
		return ErrEmptyPassword
	}
	if !IsValidEmail(c.Email) {
		return ErrInvalidEmail
	}
	return nil
}

// IsValidEmail reports whether s looks like an email address
func IsValidEmail(s string) bool {
	return emailRegex.MatchString(s)
}

// VirtualUserCredentials returns the HTTP-flow identity of virtual user i
func VirtualUserCredentials(i int) Credentials {
	username := fmt.Sprintf("user_%d", i)
	return Credentials{
		Username: username,
		Email:    username + "@example.com",
		Password: "password123",
		Age:      23,
	}
}
