package overlay

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/meshchat/pkg/model"
)

func TestTokenRoundTrip(t *testing.T) {
	info := model.PeerInfo{ID: 42, Host: "192.168.1.7", Port: 9000}
	back, err := DecodeToken(EncodeToken(info))
	require.NoError(t, err)
	assert.Equal(t, info, back)
}

func TestDecodeTokenRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"not base64":    "!!!not-base64!!!",
		"not json":      base64.StdEncoding.EncodeToString([]byte("hello")),
		"empty object":  base64.StdEncoding.EncodeToString([]byte(`{}`)),
		"missing host":  base64.StdEncoding.EncodeToString([]byte(`{"id":1,"port":8080}`)),
		"zero id":       base64.StdEncoding.EncodeToString([]byte(`{"id":0,"host":"a","port":8080}`)),
		"negative id":   base64.StdEncoding.EncodeToString([]byte(`{"id":-3,"host":"a","port":8080}`)),
		"port too high": base64.StdEncoding.EncodeToString([]byte(`{"id":1,"host":"a","port":70000}`)),
		"zero port":     base64.StdEncoding.EncodeToString([]byte(`{"id":1,"host":"a","port":0}`)),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeToken(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}
