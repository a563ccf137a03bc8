package store

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Key layout:
//   a/{address}                     -> account snapshot JSON
//   t/{tokenID}/{ts:020d}/{tradeID} -> trade JSON
//
// Zero-padding the timestamp keeps trades in chronological order under
// pebble's byte-wise key comparison.

func accountKey(owner common.Address) []byte {
	return []byte("a/" + owner.Hex())
}

func accountPrefix() []byte {
	return []byte("a/")
}

func tradePrefix(tokenID string) []byte {
	return []byte("t/" + tokenID + "/")
}

func tradeKey(tokenID string, ts int64, tradeID string) []byte {
	return []byte(fmt.Sprintf("t/%s/%020d/%s", tokenID, ts, tradeID))
}

// keyUpperBound returns the smallest key greater than every key with the
// given prefix.
func keyUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
