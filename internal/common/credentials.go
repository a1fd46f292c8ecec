package common

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrCredentialsSyntax   = errors.New("invalid basic auth credentials syntax")
	ErrCredentialsUsername = errors.New("missing basic auth username")
	ErrCredentialsPassword = errors.New("missing basic auth password")
	ErrCredentialsParts    = errors.New("too many values separated by colon")
)

// Credentials is a basic auth username/password pair.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"-"`
}

// ParseCredentials parses "<username>:<password>".
func ParseCredentials(s string) (*Credentials, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) <= 1 {
		return nil, ErrCredentialsSyntax
	}
	if len(parts) > 2 {
		return nil, fmt.Errorf("%w: expected 2, got %d; valid form is '<username>:<password>'", ErrCredentialsParts, len(parts))
	}
	if parts[0] == "" {
		return nil, ErrCredentialsUsername
	}
	if parts[1] == "" {
		return nil, ErrCredentialsPassword
	}
	return &Credentials{Username: parts[0], Password: parts[1]}, nil
}

// Authorization returns the value of the Authorization header.
func (c *Credentials) Authorization() string {
	token := base64.StdEncoding.EncodeToString([]byte(c.Username + ":" + c.Password))
	return "Basic " + token
}

func (c *Credentials) String() string {
	return c.Username + ":***"
}
