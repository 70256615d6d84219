package keys

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"filippo.io/age"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeIdentity(t *testing.T, id *age.X25519Identity) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "key.txt")
	require.NoError(t, os.WriteFile(path, []byte(id.String()+"\n"), 0o600))
	return path
}

func TestGenerate(t *testing.T) {
	var out bytes.Buffer
	id, err := Generate(context.Background(), &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), id.Recipient().String())
	assert.Contains(t, out.String(), id.String())
}

func TestTest(t *testing.T) {
	ctx := context.Background()
	id, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	other, err := age.GenerateX25519Identity()
	require.NoError(t, err)

	tests := []struct {
		name      string
		publicKey string
		identity  string
		wantErr   string
	}{
		{"matching pair", id.Recipient().String(), writeIdentity(t, id), ""},
		{"mismatched pair", other.Recipient().String(), writeIdentity(t, id), "decryption failed"},
		{"no public key", "", writeIdentity(t, id), "age_public_key"},
		{"bad public key", "age1nope", writeIdentity(t, id), "parse public key"},
		{"missing identity", id.Recipient().String(), filepath.Join(t.TempDir(), "absent"), "load private key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := Test(ctx, &out, tt.publicKey, tt.identity)
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Contains(t, out.String(), "Content verification successful")
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
