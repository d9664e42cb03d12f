package discovery

import "errors"

var (
	// ErrDiscoveryTimeout means no provider replied within the discovery
	// window. Callers decide whether to retry; the discoverer never does.
	ErrDiscoveryTimeout = errors.New("discovery: no provider responded in window")

	// ErrClaimConflict means another consumer claimed the provider first.
	// The loser must re-discover.
	ErrClaimConflict = errors.New("discovery: provider already claimed")
)
