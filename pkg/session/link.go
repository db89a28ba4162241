package session

import (
	"encoding/base64"
	"encoding/json"
	"net/url"
	"time"

	"github.com/cryptagon/meetmesh/pkg/types"
)

// GenerateSessionLink encodes a room descriptor onto base as a shareable
// link: <origin><path>?session=<base64(json)>. Any query parameters already
// on base are dropped.
func GenerateSessionLink(base, roomID string) string {
	desc := types.SessionDescriptor{
		RoomID:    roomID,
		Timestamp: time.Now().UnixNano() / int64(time.Millisecond),
	}
	raw, err := json.Marshal(desc)
	if err != nil {
		return ""
	}
	token := base64.StdEncoding.EncodeToString(raw)
	query := url.Values{"session": {token}}.Encode()

	u, err := url.Parse(base)
	if err != nil {
		return "?" + query
	}
	u.RawQuery = query
	u.Fragment = ""
	return u.String()
}

// ParseSessionLink extracts the room id from a shareable link. It fails
// closed: a missing session parameter, invalid base64, invalid JSON or a
// descriptor without a room id all yield ok=false, never an error.
func ParseSessionLink(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}

	token := u.Query().Get("session")
	if token == "" {
		return "", false
	}

	decoded, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", false
	}

	var desc types.SessionDescriptor
	if err := json.Unmarshal(decoded, &desc); err != nil {
		return "", false
	}
	if desc.RoomID == "" {
		return "", false
	}
	return desc.RoomID, true
}
