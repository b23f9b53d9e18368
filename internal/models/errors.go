/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "errors"

// Error categories. Package errors wrap one of these so callers can branch on
// the category with errors.Is.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrTimeout      = errors.New("timed out")
	ErrUnauthorized = errors.New("not authorized")
	ErrTransport    = errors.New("transport failure")
	ErrResolution   = errors.New("resolution failed")
	ErrDuplicate    = errors.New("duplicate entry")
)
