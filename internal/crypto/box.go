package crypto

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"pokerbridge/internal/proto"
)

const (
	labelBoxKey    = "pokerbridge:box:v1"
	labelSignature = "pokerbridge:env:v1"
)

// Verdict classifies an inbound envelope.
type Verdict int

const (
	NotAddressedToMe Verdict = iota
	InvalidSignature
	Authentic
)

func (v Verdict) String() string {
	switch v {
	case NotAddressedToMe:
		return "not_addressed"
	case InvalidSignature:
		return "invalid_signature"
	case Authentic:
		return "authentic"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Result is the outcome of Decrypt. Content is set only for Authentic.
type Result struct {
	Verdict Verdict
	Content string
}

// Encrypt seals plaintext for recipient and signs the sealed bytes as signer.
//
// Wire layout of the ciphertext: eph_pub[32] || nonce[24] || aead_ct.
func (k *Keyring) Encrypt(plaintext []byte, recipient, signer string) (ciphertext, signature []byte, err error) {
	if recipient == "" {
		return nil, nil, errors.New("missing recipient")
	}
	to, ok := k.ids[recipient]
	if !ok {
		return nil, nil, fmt.Errorf("unknown recipient %q", recipient)
	}
	from, ok := k.ids[signer]
	if !ok || from.priv == nil {
		return nil, nil, fmt.Errorf("no signing key for %q", signer)
	}

	eph, err := GenerateEphemeral()
	if err != nil {
		return nil, nil, err
	}
	defer eph.Destroy()
	ephPub, err := eph.Public()
	if err != nil {
		return nil, nil, err
	}
	shared, err := eph.Shared(to.xpub)
	if err != nil {
		return nil, nil, err
	}
	key := KDF(labelBoxKey, shared, ephPub, to.xpub)
	nonce, ct, err := XSeal(key, plaintext, []byte(recipient))
	if err != nil {
		return nil, nil, err
	}

	wire := make([]byte, 0, len(ephPub)+len(nonce)+len(ct))
	wire = append(wire, ephPub...)
	wire = append(wire, nonce...)
	wire = append(wire, ct...)
	return wire, ed25519.Sign(from.priv, signingBytes(recipient, wire)), nil
}

// Decrypt never fails: every problem with a correctly addressed envelope is
// reported as InvalidSignature.
func (k *Keyring) Decrypt(env proto.Envelope, self, claimedSender string) Result {
	if env.Recipient != self {
		return Result{Verdict: NotAddressedToMe}
	}
	me, ok := k.ids[self]
	if !ok || me.priv == nil {
		return Result{Verdict: InvalidSignature}
	}
	sender, ok := k.ids[claimedSender]
	if !ok {
		return Result{Verdict: InvalidSignature}
	}
	wire, err := proto.DecodeSealedPayload(env.Content)
	if err != nil {
		return Result{Verdict: InvalidSignature}
	}
	sig, err := proto.DecodeSealedPayload(env.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return Result{Verdict: InvalidSignature}
	}
	if !ed25519.Verify(sender.pub, signingBytes(env.Recipient, wire), sig) {
		return Result{Verdict: InvalidSignature}
	}
	if len(wire) < XPubSize+XNonceSize {
		return Result{Verdict: InvalidSignature}
	}
	ephPub := wire[:XPubSize]
	nonce := wire[XPubSize : XPubSize+XNonceSize]
	shared, err := X25519Shared(me.xpriv, ephPub)
	if err != nil {
		return Result{Verdict: InvalidSignature}
	}
	key := KDF(labelBoxKey, shared, ephPub, me.xpub)
	pt, err := XOpen(key, nonce, wire[XPubSize+XNonceSize:], []byte(self))
	if err != nil {
		return Result{Verdict: InvalidSignature}
	}
	return Result{Verdict: Authentic, Content: string(pt)}
}

func signingBytes(recipient string, wire []byte) []byte {
	buf := make([]byte, 0, len(labelSignature)+len(recipient)+1+len(wire))
	buf = append(buf, labelSignature...)
	buf = append(buf, recipient...)
	buf = append(buf, 0)
	buf = append(buf, wire...)
	return buf
}
