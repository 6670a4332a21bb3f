// Copyright (C) 2025 Beehive Labs (oss@beehivelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import "errors"

var (
	// ErrNotFound means no proposal exists with the given ID.
	ErrNotFound = errors.New("proposal not found")

	// ErrAlreadyExists means Create was called with an ID already in
	// the store.
	ErrAlreadyExists = errors.New("proposal already exists")

	// ErrClosed means the store was used after Close.
	ErrClosed = errors.New("store is closed")
)
