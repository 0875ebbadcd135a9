// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Yggdrasil Contributors

// Package mcdigest computes the Minecraft server-handshake verification
// hash.
//
// The wire format is Java's BigInteger rendering of a SHA-1 digest: the
// twenty bytes are interpreted as a signed big-endian integer, and the hex
// output is the sign/magnitude form with leading zero digits stripped.
// Any deviation breaks interoperability with existing servers, so the
// two's-complement handling is done bytewise rather than through a
// fixed-width encoder.
package mcdigest

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// Sum computes the verification hash for a handshake: SHA-1 over the
// concatenation of the server id, the shared secret, and the server's
// encoded public key, rendered in sign/magnitude hex.
func Sum(serverID, sharedSecret, serverPublicKey string) string {
	h := sha1.New()
	h.Write([]byte(serverID))
	h.Write([]byte(sharedSecret))
	h.Write([]byte(serverPublicKey))
	return HexDigest(h.Sum(nil))
}

// HexDigest renders a raw digest in Java's signed hex form. The first bit
// is the sign; negative values are two's-complement inverted before
// rendering and prefixed with '-'. Leading zero hex digits never appear.
func HexDigest(sum []byte) string {
	if len(sum) == 0 {
		return ""
	}
	buf := make([]byte, len(sum))
	copy(buf, sum)

	negative := buf[0]&0x80 != 0
	if negative {
		twosComplement(buf)
	}

	digits := strings.TrimLeft(hex.EncodeToString(buf), "0")
	if digits == "" {
		digits = "0"
	}
	if negative {
		return "-" + digits
	}
	return digits
}

// twosComplement inverts every bit and adds one, propagating the carry
// from the least-significant byte.
func twosComplement(buf []byte) {
	carry := true
	for i := len(buf) - 1; i >= 0; i-- {
		buf[i] = ^buf[i]
		if carry {
			buf[i]++
			carry = buf[i] == 0
		}
	}
}
