package common

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCredentials(t *testing.T) {
	tests := []struct {
		input   string
		user    string
		pass    string
		wantErr error
	}{
		{"user:pass", "user", "pass", nil},
		{"  user:p4ss  ", "user", "p4ss", nil},
		{"userpass", "", "", ErrCredentialsSyntax},
		{"", "", "", ErrCredentialsSyntax},
		{":pass", "", "", ErrCredentialsUsername},
		{"user:", "", "", ErrCredentialsPassword},
		{"user:pass:extra", "", "", ErrCredentialsParts},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			c, err := ParseCredentials(tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("got error %v, want %v", err, tt.wantErr)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.user, c.Username)
			assert.Equal(t, tt.pass, c.Password)
		})
	}
}

func TestCredentialsAuthorization(t *testing.T) {
	c := &Credentials{Username: "Aladdin", Password: "open sesame"}
	assert.Equal(t, "Basic QWxhZGRpbjpvcGVuIHNlc2FtZQ==", c.Authorization())

	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	req.Header.Set("Authorization", c.Authorization())
	user, pass, ok := req.BasicAuth()
	assert.True(t, ok)
	assert.Equal(t, "Aladdin", user)
	assert.Equal(t, "open sesame", pass)
}

func TestWithHeaderDoesNotMutateOriginal(t *testing.T) {
	req, err := NewCheckRequest("https://example.com/a", Source{Document: "README.md", Line: 3})
	require.NoError(t, err)

	next := req.WithHeader("X-Test", "1")
	assert.Empty(t, req.Header.Get("X-Test"))
	assert.Equal(t, "1", next.Header.Get("X-Test"))
	assert.Equal(t, "README.md:3", req.Source.String())
}
