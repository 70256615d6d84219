// Package envelope implements the {timestamp, version, data} wrapper persisted
// for every backup.
package envelope

import (
	"bytes"
	"encoding/json"
	"time"

	"syncvault/internal/apperr"
	"syncvault/internal/crypto"

	"filippo.io/age"
)

const Version = "1.0.0"

var ageHeader = []byte("age-encryption.org/v1")

type Envelope struct {
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Data      string    `json:"data"`
}

func New(data string, now time.Time) *Envelope {
	return &Envelope{
		Timestamp: now.UTC(),
		Version:   Version,
		Data:      data,
	}
}

func (e *Envelope) Marshal() ([]byte, error) {
	return json.MarshalIndent(e, "", "  ")
}

// Parse decodes raw envelope bytes. Both the envelope and its data payload must
// be valid JSON; anything else is reported as a format error.
func Parse(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, apperr.Wrap(apperr.KindFormat, "parse envelope", err)
	}
	if env.Version == "" {
		return nil, apperr.New(apperr.KindFormat, "parse envelope", "missing version")
	}
	if env.Timestamp.IsZero() {
		return nil, apperr.New(apperr.KindFormat, "parse envelope", "missing timestamp")
	}
	if !json.Valid([]byte(env.Data)) {
		return nil, apperr.New(apperr.KindFormat, "parse envelope", "data is not valid JSON")
	}
	return &env, nil
}

func Encrypted(raw []byte) bool {
	return bytes.HasPrefix(raw, ageHeader)
}

func Seal(raw []byte, recipient age.Recipient) ([]byte, error) {
	if recipient == nil {
		return raw, nil
	}
	return crypto.Encrypt(raw, recipient)
}

// Open returns raw unchanged unless it is age-encrypted, in which case identity
// is required.
func Open(raw []byte, identity age.Identity) ([]byte, error) {
	if !Encrypted(raw) {
		return raw, nil
	}
	if identity == nil {
		return nil, apperr.New(apperr.KindConfig, "open envelope", "backup is encrypted, an age identity file is required")
	}
	plain, err := crypto.Decrypt(raw, identity)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindAuth, "open envelope", err)
	}
	return plain, nil
}
