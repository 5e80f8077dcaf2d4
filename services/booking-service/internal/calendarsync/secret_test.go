package calendarsync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretNeverRenders(t *testing.T) {
	cred := Credential{OwnerRef: "owner", State: Connected{RefreshToken: NewSecret("1//super-secret")}}

	assert.NotContains(t, fmt.Sprintf("%v %+v %#v", cred, cred, cred), "super-secret")

	raw, err := json.Marshal(cred)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "super-secret")

	var buf bytes.Buffer
	slog.New(slog.NewJSONHandler(&buf, nil)).Info("cred", "token", NewSecret("1//super-secret"), "cred", cred)
	assert.NotContains(t, buf.String(), "super-secret")
}

func TestSealerRoundTrip(t *testing.T) {
	s, err := NewSealer(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)

	sealed, err := s.Seal(NewSecret("refresh"))
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "refresh")

	got, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "refresh", got.Reveal())

	sealed[len(sealed)-1] ^= 1
	_, err = s.Open(sealed)
	assert.ErrorIs(t, err, ErrUnseal)

	other, err := NewSealer(bytes.Repeat([]byte{8}, 32))
	require.NoError(t, err)
	sealed2, err := s.Seal(NewSecret("refresh"))
	require.NoError(t, err)
	_, err = other.Open(sealed2)
	assert.ErrorIs(t, err, ErrUnseal)

	_, err = NewSealer([]byte("short"))
	assert.Error(t, err)
}
