// Package fairness produces auditable match seeds and the deterministic random stream derived from them.
package fairness

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"strconv"

	"golang.org/x/crypto/hkdf"
)

// MakeSeed returns hex(HMAC-SHA256(serverSecret, roomID ":" timestamp)).
func MakeSeed(serverSecret, roomID string, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(serverSecret))
	mac.Write([]byte(roomID + ":" + strconv.FormatInt(timestamp, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySeed recomputes the seed and compares it in constant time.
func VerifySeed(serverSecret, roomID string, timestamp int64, seed string) bool {
	expected := MakeSeed(serverSecret, roomID, timestamp)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(seed)) == 1
}

// DeriveRoomSecret derives a per-room secret from the master secret so that
// revealing it after a match does not expose the master.
func DeriveRoomSecret(master, roomID string) string {
	r := hkdf.New(sha256.New, []byte(master), []byte(roomID), []byte("stakeroyale room secret"))
	out := make([]byte, 32)
	if _, err := io.ReadFull(r, out); err != nil {
		// hkdf only fails past 255*hash length
		panic(err)
	}
	return hex.EncodeToString(out)
}

// Commitment is published before a match so the revealed room secret can be checked afterwards.
func Commitment(roomSecret string) string {
	sum := sha256.Sum256([]byte(roomSecret))
	return hex.EncodeToString(sum[:])
}

// CombineClientSeed mixes an optional client-chosen seed into a server seed.
// An empty client seed leaves the server seed unchanged.
func CombineClientSeed(serverSeed, clientSeed string) string {
	if clientSeed == "" {
		return serverSeed
	}
	mac := hmac.New(sha256.New, []byte(serverSeed))
	mac.Write([]byte(clientSeed))
	return hex.EncodeToString(mac.Sum(nil))
}

// Reveal is everything a third party needs to recompute a match seed.
type Reveal struct {
	Commitment string `json:"commitment"`
	RoomSecret string `json:"roomSecret"`
	RoomID     string `json:"roomId"`
	Timestamp  int64  `json:"timestamp"`
	ClientSeed string `json:"clientSeed,omitempty"`
	Seed       string `json:"seed"`
}

// VerifyReveal checks that the revealed secret matches the published commitment and
// that it reproduces the seed the match actually used.
func VerifyReveal(r Reveal) bool {
	if subtle.ConstantTimeCompare([]byte(Commitment(r.RoomSecret)), []byte(r.Commitment)) != 1 {
		return false
	}
	seed := CombineClientSeed(MakeSeed(r.RoomSecret, r.RoomID, r.Timestamp), r.ClientSeed)
	return subtle.ConstantTimeCompare([]byte(seed), []byte(r.Seed)) == 1
}
