package firecracker

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
)

// RoutingClient hashes a session id to one of a fixed set of sandbox-pod
// URLs, so repeat requests for the same session land on the pod that
// booted its VM. MD5 is used for deterministic hashing, not for any
// cryptographic property; any stable hash function would do the same job.
// Grounded on the shape of a plain, dependency-free hash-ring helper.
type RoutingClient struct {
	pods []string
}

// NewRoutingClient builds a routing client over a fixed, ordered list of
// pod base URLs. The order must be identical across all callers/replicas
// for routing to agree.
func NewRoutingClient(pods []string) (*RoutingClient, error) {
	if len(pods) == 0 {
		return nil, fmt.Errorf("routing: at least one pod URL is required")
	}
	cp := make([]string, len(pods))
	copy(cp, pods)
	return &RoutingClient{pods: cp}, nil
}

// PodFor returns the pod URL a given session id consistently maps to.
func (r *RoutingClient) PodFor(sessionID string) string {
	sum := md5.Sum([]byte(sessionID))
	idx := binary.BigEndian.Uint32(sum[:4]) % uint32(len(r.pods))
	return r.pods[idx]
}

// Pods returns the full, fixed set of pod URLs (used to fan out
// health/list requests).
func (r *RoutingClient) Pods() []string {
	out := make([]string, len(r.pods))
	copy(out, r.pods)
	return out
}
