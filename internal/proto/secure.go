package proto

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrParse marks a message whose structure or vocabulary is not understood.
// Envelope parse failures are dropped by the relay; method or forum body
// mismatches are fatal.
var ErrParse = errors.New("protocol parse error")

// Envelope is the addressed unit posted to the broadcast room. Content and
// Signature hold base64 of the sealed bytes. The sender is not part of the
// envelope: it is the author the room reports for the post.
type Envelope struct {
	Recipient string `json:"recipient"`
	Content   string `json:"content"`
	Signature string `json:"signature"`
}

func EncodeEnvelope(e Envelope) ([]byte, error) {
	if e.Recipient == "" {
		return nil, errors.New("envelope: empty recipient")
	}
	return json.Marshal(e)
}

func DecodeEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&e); err != nil {
		return Envelope{}, fmt.Errorf("%w: envelope: %v", ErrParse, err)
	}
	if e.Recipient == "" {
		return Envelope{}, fmt.Errorf("%w: envelope: empty recipient", ErrParse)
	}
	return e, nil
}

func EncodeSealedPayload(payload []byte) string {
	return base64.StdEncoding.EncodeToString(payload)
}

func DecodeSealedPayload(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
