package calendarsync

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

var ErrUnseal = errors.New("calendarsync: sealed value is corrupt or was sealed with another key")

// Sealer encrypts refresh tokens at rest. Output is nonce || box.
type Sealer struct {
	key [keySize]byte
}

func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("calendarsync: sealing key must be %d bytes, got %d", keySize, len(key))
	}
	s := &Sealer{}
	copy(s.key[:], key)
	return s, nil
}

func (s *Sealer) Seal(secret Secret) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("calendarsync: read nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], []byte(secret.Reveal()), &nonce, &s.key), nil
}

func (s *Sealer) Open(sealed []byte) (Secret, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return Secret{}, ErrUnseal
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &s.key)
	if !ok {
		return Secret{}, ErrUnseal
	}
	return NewSecret(string(plain)), nil
}
