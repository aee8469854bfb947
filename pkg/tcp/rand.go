/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

package tcp

import (
	"crypto/rand"
	"encoding/binary"
)

// randUint32 draws a cryptographically random starting sequence number.
// Falls back to zero only if the system RNG is unavailable, which never
// happens in practice on any platform this stack targets.
func randUint32() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return binary.BigEndian.Uint32(b[:])
}
