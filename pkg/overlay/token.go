package overlay

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tinyland-inc/meshchat/pkg/model"
)

// ErrInvalidToken marks an invite token that does not decode. The caller
// should ask the user to re-enter it.
var ErrInvalidToken = errors.New("invalid invite token")

// EncodeToken serializes a peer's identity and address into the compact
// textual form handed around out-of-band (copy-paste, QR).
func EncodeToken(info model.PeerInfo) string {
	data, _ := json.Marshal(info)
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeToken is the inverse of EncodeToken. Any string not produced by
// EncodeToken fails with ErrInvalidToken.
func DecodeToken(token string) (model.PeerInfo, error) {
	data, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return model.PeerInfo{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	var info model.PeerInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return model.PeerInfo{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if info.ID <= 0 || info.Host == "" || info.Port <= 0 || info.Port > 65535 {
		return model.PeerInfo{}, fmt.Errorf("%w: missing peer identity or address", ErrInvalidToken)
	}
	return info, nil
}
