package twwplus

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsAuthorizedRequest(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		target string
		header string
		want   bool
	}{
		{name: "no token configured", token: "", target: "/ws", want: true},
		{name: "bearer", token: "secret", target: "/ws", header: "Bearer secret", want: true},
		{name: "bearer with padding", token: "secret", target: "/ws", header: "Bearer  secret ", want: true},
		{name: "query", token: "secret", target: "/ws?token=secret", want: true},
		{name: "wrong bearer falls back to query", token: "secret", target: "/ws?token=secret", header: "Bearer nope", want: true},
		{name: "wrong token", token: "secret", target: "/ws?token=nope", want: false},
		{name: "missing", token: "secret", target: "/ws", want: false},
		{name: "other scheme", token: "secret", target: "/ws", header: "Basic secret", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, IsAuthorizedRequest(tt.token, r))
		})
	}
}

func TestTokensEqual(t *testing.T) {
	assert.True(t, TokensEqual("abc", "abc"))
	assert.False(t, TokensEqual("abc", "abd"))
	assert.False(t, TokensEqual("", ""))
}
