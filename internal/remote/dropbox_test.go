package remote

import (
	"errors"
	"testing"

	"syncvault/internal/apperr"
	"syncvault/internal/config"

	"github.com/stretchr/testify/assert"
)

func TestDropboxError(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want apperr.Kind
	}{
		{name: "missing file", msg: "path/not_found/..", want: apperr.KindNotFound},
		{name: "lookup failure", msg: "path_lookup/not_found/.", want: apperr.KindNotFound},
		{name: "expired token", msg: "expired_access_token/", want: apperr.KindAuth},
		{name: "invalid token", msg: "invalid_access_token/", want: apperr.KindAuth},
		{name: "malformed path", msg: "path/malformed_path/", want: apperr.KindRequest},
		{name: "network failure", msg: "dial tcp: connection refused", want: apperr.KindConnection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, apperr.KindOf(dropboxError("op", errors.New(tt.msg))))
		})
	}
}

func TestDropboxPath(t *testing.T) {
	assert.Equal(t, "", dropboxPath("/"))
	assert.Equal(t, "/Apps/sv", dropboxPath("/Apps/sv"))
}

func TestNewDropboxRequiresToken(t *testing.T) {
	_, err := NewDropbox(config.DropboxConfig{})
	assert.True(t, apperr.Is(err, apperr.KindConfig))

	d, err := NewDropbox(config.DropboxConfig{Token: "t"})
	assert.NoError(t, err)
	assert.Equal(t, config.BackendDropbox, d.Name())
}
