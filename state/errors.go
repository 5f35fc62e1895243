// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package state

import (
	"errors"
	"fmt"

	"github.com/Fantom-foundation/adsexec/common"
)

const (
	// ErrInitialization signals an unusable store location.
	ErrInitialization = common.ConstError("state initialization failed")
	// ErrSequence signals a lifecycle call out of order.
	ErrSequence = common.ConstError("state operation out of sequence")
	// ErrCommit signals a failed flush. The block stays open and the flush
	// may be retried.
	ErrCommit = common.ConstError("state commit failed")
	// ErrRead signals a failed lookup, for instance due to corrupted data.
	ErrRead = common.ConstError("state read failed")
	// ErrNotFound signals a well-formed absence of the requested data.
	ErrNotFound = common.ConstError("not found")
)

// ErrorKind classifies errors reported to execution engines.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindInitialization
	KindSequence
	KindCommit
	KindRead
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindInitialization:
		return "initialization"
	case KindSequence:
		return "sequence"
	case KindCommit:
		return "commit"
	case KindRead:
		return "read"
	case KindNotFound:
		return "not-found"
	}
	return "internal"
}

// ProviderError is the single error type state failures are reported as to
// execution engines.
type ProviderError struct {
	Kind ErrorKind
	Err  error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("state provider error (%v): %v", e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// AsProviderError converts the given error into a ProviderError. Errors
// that already are provider errors are returned unchanged, nil stays nil.
func AsProviderError(err error) *ProviderError {
	if err == nil {
		return nil
	}
	var res *ProviderError
	if errors.As(err, &res) {
		return res
	}
	return &ProviderError{Kind: kindOf(err), Err: err}
}

func kindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrInitialization):
		return KindInitialization
	case errors.Is(err, ErrSequence):
		return KindSequence
	case errors.Is(err, ErrCommit):
		return KindCommit
	case errors.Is(err, ErrRead):
		return KindRead
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	}
	return KindInternal
}
