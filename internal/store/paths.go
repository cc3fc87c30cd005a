package store

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
)

// SanitizeAccountID maps an account identifier to a directory name. Identifiers
// made only of [A-Za-z0-9._-] (and not starting with a dot) are used verbatim;
// anything else gets unsafe characters replaced and a hash suffix, so two
// distinct identifiers never share a directory.
func SanitizeAccountID(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	safe := b.String()
	if safe == id && safe != "" && !strings.HasPrefix(safe, ".") {
		return safe
	}

	safe = strings.TrimLeft(safe, ".")
	if strings.Trim(safe, "_") == "" {
		safe = "account"
	}
	sum := sha256.Sum256([]byte(id))
	return safe + "-" + hex.EncodeToString(sum[:])[:12]
}

// AccountDir returns the directory holding every file of one account.
func AccountDir(root, accountID string) string {
	return filepath.Join(root, SanitizeAccountID(accountID))
}
