package rowstore

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/sheafdata/sheaf/go/types"
)

func hashBytes(b []byte) types.RowHash {
	sum := sha256.Sum256(b)
	return types.RowHash(hex.EncodeToString(sum[:]))
}
