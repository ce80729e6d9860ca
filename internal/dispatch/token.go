// Jobclerk is a job dispatch and lease tracking service.
// Copyright (C) 2025  Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package dispatch

import (
	"crypto/rand"
	"fmt"
)

const (
	tokenLength   = 16
	tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// newJobToken mints a lease token: 16 characters drawn uniformly from the
// 62-character alphanumeric alphabet (~95 bits of entropy) using the
// system CSPRNG. The token is the sole capability for updating a job, so a
// weak source here would make leases guessable.
func newJobToken() (string, error) {
	// Rejection sampling keeps the draw uniform: bytes at or above
	// 62*4 = 248 are discarded instead of folded in with modulo bias.
	const limit = byte(len(tokenAlphabet) * (256 / len(tokenAlphabet)))

	out := make([]byte, 0, tokenLength)
	buf := make([]byte, 2*tokenLength)
	for {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, tokenAlphabet[int(b)%len(tokenAlphabet)])
			if len(out) == tokenLength {
				return string(out), nil
			}
		}
	}
}
