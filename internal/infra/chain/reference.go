package chain

import (
	"fmt"
	"regexp"

	"github.com/vietddude/txwatch/internal/core/domain"
)

var hash32Pattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// ValidateHash32 accepts a 0x-prefixed 32-byte hex hash, the reference
// format shared by EVM transaction hashes and Substrate extrinsic hashes.
func ValidateHash32(reference string) error {
	if !hash32Pattern.MatchString(reference) {
		return fmt.Errorf("%w: %q is not a 32-byte hex hash", domain.ErrInvalidReference, reference)
	}
	return nil
}
