package activitypub

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/okapi-social/okapi/domain"
	"github.com/okapi-social/okapi/util"
)

// Actor is the minimal identity surface the key store needs. Implemented
// by domain.Account (local) and domain.RemoteAccount (remote).
type Actor interface {
	KeyOwner() uuid.UUID
	IsLocal() bool
}

// KeyStore owns RSA keypair generation and retrieval for local actors and
// caches remote actors' public keys.
type KeyStore struct {
	store    Store
	explorer *Explorer
}

func NewKeyStore(store Store, explorer *Explorer) *KeyStore {
	return &KeyStore{store: store, explorer: explorer}
}

// EnsurePrivateKey returns the actor's private key PEM, lazily generating
// and persisting a fresh 2048-bit keypair on first need. Repeat calls
// return the identical PEM. Remote actors never have a private half here.
func (ks *KeyStore) EnsurePrivateKey(actor Actor) (string, error) {
	if !actor.IsLocal() {
		return "", ErrNotLocalActor
	}

	err, pair := ks.store.ReadKeyPairByOwner(actor.KeyOwner())
	if err == nil && pair != nil && pair.PrivateKeyPem != "" {
		return pair.PrivateKeyPem, nil
	}

	pair2, err := ks.generate(actor.KeyOwner())
	if err != nil {
		return "", err
	}
	return pair2.PrivateKeyPem, nil
}

// EnsurePublicKey returns the actor's public key PEM. For a local actor it
// is the public half of the ensured pair. For a remote actor it is the
// cached key, falling back to a profile fetch when allowRefetch is set.
func (ks *KeyStore) EnsurePublicKey(ctx context.Context, actor Actor, allowRefetch bool) (string, error) {
	err, pair := ks.store.ReadKeyPairByOwner(actor.KeyOwner())
	if err == nil && pair != nil && pair.PublicKeyPem != "" {
		return pair.PublicKeyPem, nil
	}

	if actor.IsLocal() {
		pair2, genErr := ks.generate(actor.KeyOwner())
		if genErr != nil {
			return "", genErr
		}
		return pair2.PublicKeyPem, nil
	}

	// Remote actor: the resolver stores the key on the cached record
	err, remote := ks.store.ReadRemoteAccountById(actor.KeyOwner())
	if err == nil && remote != nil && remote.PublicKeyPem != "" {
		if cacheErr := ks.store.UpsertKeyPairPublic(remote.Id, remote.PublicKeyPem); cacheErr != nil {
			return "", cacheErr
		}
		return remote.PublicKeyPem, nil
	}

	if !allowRefetch {
		return "", ErrKeyUnavailable
	}
	if remote == nil {
		return "", ErrKeyUnavailable
	}

	doc, err := ks.explorer.GetRemoteUserActivity(ctx, remote.ActorURI)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}

	if err := ks.UpdatePublicKey(actor, doc.PublicKey.PublicKeyPem); err != nil {
		return "", err
	}
	return doc.PublicKey.PublicKeyPem, nil
}

// UpdatePublicKey upserts the stored public half for an actor. Idempotent.
// For remote actors the cached record's key column is refreshed as well.
func (ks *KeyStore) UpdatePublicKey(actor Actor, publicKeyPem string) error {
	if err := ks.store.UpsertKeyPairPublic(actor.KeyOwner(), publicKeyPem); err != nil {
		return err
	}
	if !actor.IsLocal() {
		return ks.store.UpdateRemoteAccountKey(actor.KeyOwner(), publicKeyPem)
	}
	return nil
}

func (ks *KeyStore) generate(owner uuid.UUID) (*domain.KeyPair, error) {
	generated, err := util.GeneratePemKeypair()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	pair := &domain.KeyPair{
		OwnerId:       owner,
		PrivateKeyPem: generated.Private,
		PublicKeyPem:  generated.Public,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := ks.store.CreateKeyPair(pair); err != nil {
		return nil, err
	}

	return pair, nil
}
