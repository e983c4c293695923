// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package replica

import (
	"errors"
	"fmt"

	"github.com/loomchat/loom/client"
	"github.com/loomchat/loom/lib/ref"
)

// FetchError reports a failed entity fetch during reconciliation.
// NotFound is a definitive answer from the server of record and causes
// the cached copy to be dropped; anything else is transient and leaves
// the cache untouched until a later envelope or refresh reconverges.
type FetchError struct {
	ID       ref.EntityID
	NotFound bool
	Err      error
}

func (e *FetchError) Error() string {
	if e.NotFound {
		return fmt.Sprintf("fetching %s: not found", e.ID)
	}
	return fmt.Sprintf("fetching %s: %v", e.ID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// classifyFetch wraps a remote fetch failure, marking server 404s as
// definitive.
func classifyFetch(id ref.EntityID, err error) *FetchError {
	var notFound *client.NotFoundError
	if errors.As(err, &notFound) {
		return &FetchError{ID: id, NotFound: true, Err: err}
	}
	return &FetchError{ID: id, Err: err}
}
