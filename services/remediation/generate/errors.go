// Copyright (C) 2025 Beehive Labs (oss@beehivelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package generate

import "errors"

var (
	// ErrGenerationFailed means the generator returned no usable
	// candidate at all. The proposal transitions to failed.
	ErrGenerationFailed = errors.New("candidate generation failed")

	// ErrMalformedFix means one generated fix could not be decoded.
	// Individual malformed fixes are dropped; only a fully empty
	// result escalates to ErrGenerationFailed.
	ErrMalformedFix = errors.New("malformed generated fix")
)
