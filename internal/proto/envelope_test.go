package proto

import (
	"bytes"
	"errors"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	payload := []byte(`{"type":"post","content":"x"}`)
	frame, err := EncodeFrame(payload)
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}
	got, err := ReadFrame(bytes.NewReader(frame))
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if !bytes.Equal(payload, got) {
		t.Fatalf("payload mismatch")
	}
}

func TestFrameRejectsEmptyAndOversize(t *testing.T) {
	if _, err := EncodeFrame(nil); err == nil {
		t.Fatalf("expected error for empty payload")
	}
	if _, err := ReadFrame(bytes.NewReader([]byte{0, 0, 0, 0})); err == nil {
		t.Fatalf("expected error for zero length frame")
	}
	if _, err := ReadFrame(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff})); err == nil {
		t.Fatalf("expected error for oversize frame")
	}
}

func TestEnvelopeRoundTripBytes(t *testing.T) {
	env := Envelope{
		Recipient: "Player2",
		Content:   EncodeSealedPayload([]byte{1, 2, 3, 250, 251}),
		Signature: EncodeSealedPayload([]byte("sig/with+chars")),
	}
	data, err := EncodeEnvelope(env)
	if err != nil {
		t.Fatalf("EncodeEnvelope failed: %v", err)
	}
	got, err := DecodeEnvelope(data)
	if err != nil {
		t.Fatalf("DecodeEnvelope failed: %v", err)
	}
	if got != env {
		t.Fatalf("envelope mismatch: %+v != %+v", got, env)
	}
	again, err := EncodeEnvelope(got)
	if err != nil {
		t.Fatalf("EncodeEnvelope failed: %v", err)
	}
	if !bytes.Equal(data, again) {
		t.Fatalf("encoding not stable: %s != %s", data, again)
	}
	want := `{"recipient":"Player2","content":"` + env.Content + `","signature":"` + env.Signature + `"}`
	if string(data) != want {
		t.Fatalf("unexpected wire form: %s", data)
	}
}

func TestDecodeEnvelopeErrors(t *testing.T) {
	cases := []string{
		``,
		`not json`,
		`{"content":"a","signature":"b"}`,
		`{"recipient":"","content":"a","signature":"b"}`,
		`{"recipient":"Table","content":"a","signature":"b","extra":1}`,
	}
	for _, c := range cases {
		if _, err := DecodeEnvelope([]byte(c)); !errors.Is(err, ErrParse) {
			t.Fatalf("expected ErrParse for %q, got %v", c, err)
		}
	}
	if _, err := EncodeEnvelope(Envelope{Content: "a"}); err == nil {
		t.Fatalf("expected error for empty recipient")
	}
}
