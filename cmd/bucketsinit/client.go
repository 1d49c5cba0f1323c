package main

import (
	"github.com/artemis/bucketsinit/internal/storeclient"
	"github.com/artemis/bucketsinit/internal/storeclient/storeclienttest"
)

// newClient constructs the storage client the CLI drives the Initializer
// with. The real remote storage client library is explicitly out of scope
// for this module (§1): production embedders wire in their own
// storeclient.Client implementation against their actual remote. This CLI
// binary is a thin demo harness, not a spec'd component, so it runs
// against the in-memory fake rather than shipping a concrete remote SDK
// dependency this module has no business choosing on a host's behalf.
//
// Demo-only: do not ship this binary as-is against a real backend.
func newClient() (storeclient.Client, error) {
	return storeclienttest.New(), nil
}
