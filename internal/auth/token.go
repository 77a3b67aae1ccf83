// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package auth implements shared-secret token verification for the REST
// endpoint.
package auth

import "crypto/subtle"

// VerifyToken reports whether got matches want. The comparison is
// constant-time so the token cannot be probed byte by byte.
func VerifyToken(want, got string) bool {
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}
