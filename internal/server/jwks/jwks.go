// Package jwks renders the verification keys as a JSON Web Key Set and
// publishes it, so that other services can verify access tokens without
// calling back into authkeeper.
package jwks

import (
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/authkeeper/internal/server/keys"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// Build converts verification keys into a key set. Every key carries its
// kid, alg=RS256 and use=sig.
func Build(vks []keys.VerificationKey) (jwk.Set, error) {
	set := jwk.NewSet()
	for _, vk := range vks {
		key, err := jwk.FromRaw(vk.Public)
		if err != nil {
			return nil, fmt.Errorf("jwk from key %s: %w", vk.KeyID, err)
		}
		if err := key.Set(jwk.KeyIDKey, vk.KeyID); err != nil {
			return nil, err
		}
		if err := key.Set(jwk.AlgorithmKey, jwa.RS256); err != nil {
			return nil, err
		}
		if err := key.Set(jwk.KeyUsageKey, jwk.ForSignature); err != nil {
			return nil, err
		}
		if err := set.AddKey(key); err != nil {
			return nil, fmt.Errorf("add key %s: %w", vk.KeyID, err)
		}
	}
	return set, nil
}

// Marshal returns the JSON document {"keys":[...]}.
func Marshal(vks []keys.VerificationKey) ([]byte, error) {
	set, err := Build(vks)
	if err != nil {
		return nil, err
	}
	return json.Marshal(set)
}
