package license

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// keySuffixLength is the number of hex characters appended to a key prefix.
const keySuffixLength = 12

// GenerateKey returns a key of the form PREFIX-XXXXXXXXXXXX where the suffix is
// the last twelve uppercase hex characters of a random UUID.
func GenerateKey(prefix string) (string, error) {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		return "", errors.New("key prefix is required")
	}
	if strings.ContainsAny(prefix, " \t\n") {
		return "", fmt.Errorf("key prefix %q must not contain whitespace", prefix)
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	hex := strings.ToUpper(strings.ReplaceAll(id.String(), "-", ""))
	return prefix + "-" + hex[len(hex)-keySuffixLength:], nil
}

// GenerateKeys returns count distinct keys sharing prefix.
func GenerateKeys(prefix string, count int) ([]string, error) {
	if count < 1 {
		return nil, fmt.Errorf("key count must be at least 1, got %d", count)
	}

	seen := make(map[string]struct{}, count)
	keys := make([]string, 0, count)
	for len(keys) < count {
		key, err := GenerateKey(prefix)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys, nil
}
