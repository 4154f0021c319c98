package crypto

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ErrKeyMaterial marks missing or corrupt key material. It is fatal at startup.
var ErrKeyMaterial = errors.New("key material")

type identityKeys struct {
	pub   ed25519.PublicKey
	xpub  []byte
	priv  ed25519.PrivateKey
	xpriv []byte
}

// Keyring holds the key material of every known identity. Public keys are
// required for all of them; private keys only for the identities this
// process may sign or decrypt as. It is read-only after LoadKeyring.
type Keyring struct {
	ids map[string]*identityKeys
}

// LoadKeyring reads one sub-directory per identity under dir. self must have
// a private key.
func LoadKeyring(dir, self string) (*Keyring, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: read keys dir: %v", ErrKeyMaterial, err)
	}
	k := &Keyring{ids: make(map[string]*identityKeys)}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id := e.Name()
		idDir := filepath.Join(dir, id)
		pub, err := LoadPublicKey(idDir)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrKeyMaterial, id, err)
		}
		xpub, err := EdPubToX25519(pub)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrKeyMaterial, id, err)
		}
		keys := &identityKeys{pub: pub, xpub: xpub}
		priv, err := LoadPrivateKey(idDir)
		switch {
		case err == nil:
			if !pub.Equal(priv.Public()) {
				return nil, fmt.Errorf("%w: %s: private key does not match pub.hex", ErrKeyMaterial, id)
			}
			keys.priv = priv
			keys.xpriv = EdPrivToX25519(priv)
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("%w: %s: %v", ErrKeyMaterial, id, err)
		}
		k.ids[id] = keys
	}
	if len(k.ids) == 0 {
		return nil, fmt.Errorf("%w: no identities in %s", ErrKeyMaterial, dir)
	}
	if self != "" && !k.CanSign(self) {
		return nil, fmt.Errorf("%w: no private key for %s", ErrKeyMaterial, self)
	}
	return k, nil
}

// GenerateIdentity creates <dir>/<id>/{pub,priv}.hex. Existing keys are kept.
func GenerateIdentity(dir, id string) (ed25519.PublicKey, error) {
	if id == "" {
		return nil, errors.New("missing identity")
	}
	idDir := filepath.Join(dir, id)
	if pub, err := LoadPublicKey(idDir); err == nil {
		return pub, nil
	}
	pub, priv, err := GenKeypair()
	if err != nil {
		return nil, err
	}
	if err := SaveKeypair(idDir, pub, priv); err != nil {
		return nil, err
	}
	return pub, nil
}

// Identities lists the known identity handles in sorted order.
func (k *Keyring) Identities() []string {
	out := make([]string, 0, len(k.ids))
	for id := range k.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (k *Keyring) Known(id string) bool {
	_, ok := k.ids[id]
	return ok
}

func (k *Keyring) CanSign(id string) bool {
	keys, ok := k.ids[id]
	return ok && keys.priv != nil
}

func (k *Keyring) PublicKey(id string) (ed25519.PublicKey, bool) {
	keys, ok := k.ids[id]
	if !ok {
		return nil, false
	}
	return keys.pub, true
}
