// Copyright 2026 The Relaymesh Authors
// SPDX-License-Identifier: Apache-2.0

package socket

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/relaymesh/relaymesh/lib/token"
)

// Rejection reasons returned in the handshake error body.
const (
	ReasonMissingToken = "missing_token"
	ReasonInvalidToken = "invalid_token"
	ReasonRateLimit    = "rate_limit"
	ReasonValidation   = "validation"
	ReasonInternal     = "internal"
)

// rejectionStatus maps a reason to its HTTP status.
var rejectionStatus = map[string]int{
	ReasonMissingToken: http.StatusBadRequest,
	ReasonInvalidToken: http.StatusUnauthorized,
	ReasonRateLimit:    http.StatusTooManyRequests,
	ReasonValidation:   http.StatusUnprocessableEntity,
	ReasonInternal:     http.StatusInternalServerError,
}

// authReason classifies an authentication error. Everything that is
// not a recognized credential failure is an internal condition: the
// peer did nothing wrong and retrying later may succeed.
func authReason(err error) string {
	switch {
	case errors.Is(err, token.ErrMissingToken):
		return ReasonMissingToken
	case errors.Is(err, token.ErrInvalidToken):
		return ReasonInvalidToken
	default:
		return ReasonInternal
	}
}

// reject writes the handshake rejection body. The reason string is the
// whole contract: peers branch on it, not on the status code.
func reject(w http.ResponseWriter, reason, detail string) {
	status, ok := rejectionStatus[reason]
	if !ok {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":  reason,
		"detail": detail,
	})
}
