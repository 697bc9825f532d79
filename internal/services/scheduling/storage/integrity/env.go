package integrity

import (
	"fmt"
	"os"
	"strings"
)

const (
	envHMACKeys  = "EXAM_SCHEDULING_EVENT_HMAC_KEYS"
	envHMACKey   = "EXAM_SCHEDULING_EVENT_HMAC_KEY"
	envHMACKeyID = "EXAM_SCHEDULING_EVENT_HMAC_KEY_ID"
	defaultKeyID = "v1"
)

// KeyringFromEnv loads the HMAC keyring from the environment.
//
// EXAM_SCHEDULING_EVENT_HMAC_KEYS holds "id=secret" pairs separated by commas;
// when it is unset, EXAM_SCHEDULING_EVENT_HMAC_KEY provides a single key.
// EXAM_SCHEDULING_EVENT_HMAC_KEY_ID selects the signing key (default "v1").
func KeyringFromEnv() (*Keyring, error) {
	return KeyringFromLookup(os.LookupEnv)
}

// KeyringFromLookup is KeyringFromEnv over an arbitrary lookup function.
func KeyringFromLookup(lookup func(string) (string, bool)) (*Keyring, error) {
	get := func(key string) string {
		value, _ := lookup(key)
		return strings.TrimSpace(value)
	}
	keyID := get(envHMACKeyID)
	if keyID == "" {
		keyID = defaultKeyID
	}

	keySpec := get(envHMACKeys)
	if keySpec == "" {
		raw := get(envHMACKey)
		if raw == "" {
			return nil, fmt.Errorf("%s is required", envHMACKey)
		}
		return NewKeyring(map[string][]byte{keyID: []byte(raw)}, keyID)
	}

	keys := make(map[string][]byte)
	for _, entry := range strings.Split(keySpec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, value, ok := strings.Cut(entry, "=")
		id = strings.TrimSpace(id)
		value = strings.TrimSpace(value)
		if !ok || id == "" || value == "" {
			return nil, fmt.Errorf("invalid %s entry", envHMACKeys)
		}
		keys[id] = []byte(value)
	}
	return NewKeyring(keys, keyID)
}
