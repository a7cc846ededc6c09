// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tuner

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/flagtune/services/tune/store"
)

var (
	// ErrConfiguration matches every *ConfigurationError.
	ErrConfiguration = errors.New("invalid tuner configuration")

	// ErrPrecondition matches every *PreconditionError.
	ErrPrecondition = errors.New("phase precondition not met")
)

// ConfigurationError reports an unusable setting. The phase that detects
// it aborts without producing output.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrConfiguration, e.Field, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// PreconditionError reports a phase started before the phase it depends
// on has a persisted result.
type PreconditionError struct {
	Phase    store.Phase
	Requires store.Phase
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: %s requires a completed %s phase", ErrPrecondition, e.Phase, e.Requires)
}

func (e *PreconditionError) Is(target error) bool {
	return target == ErrPrecondition
}

func configError(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
