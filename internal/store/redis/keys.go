package redis

import (
	"fmt"
	"strings"
)

const (
	// KeyPrefixPreference is the prefix for preference keys
	KeyPrefixPreference = "beacon:pref:"
	// ChannelPreferenceChanged is the pub/sub channel carrying preference changes
	ChannelPreferenceChanged = "beacon:pref:changed"
)

// PreferenceKey returns the Redis key for a preference by name
func PreferenceKey(name string) string {
	return KeyPrefixPreference + name
}

// ExtractPreferenceName extracts the preference name from a Redis key
func ExtractPreferenceName(key string) (string, error) {
	if !strings.HasPrefix(key, KeyPrefixPreference) || len(key) == len(KeyPrefixPreference) {
		return "", fmt.Errorf("invalid preference key: %s", key)
	}
	return key[len(KeyPrefixPreference):], nil
}
