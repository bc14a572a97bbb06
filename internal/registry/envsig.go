package registry

import (
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
)

// EnvSignature derives the environment signature from the text of a pinned
// dependency set (e.g. a lock file). Lines are trimmed, blank lines and
// comments dropped, and the remainder sorted, so cosmetic edits do not change
// the signature while any pin change does.
func EnvSignature(pinned string) string {
	var lines []string
	for _, line := range strings.Split(pinned, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	sort.Strings(lines)

	sum := blake3.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}

// EnvSignatureFromFile reads a pinned dependency file and returns its
// signature.
func EnvSignatureFromFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read pinned dependency file: %w", err)
	}
	return EnvSignature(string(data)), nil
}
