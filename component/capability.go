package component

import (
	"slices"
)

// Kind is the media kind carried by a port. Only ports of the same kind
// can be connected.
type Kind string

const (
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
	KindData  Kind = "data"
)

// Capability names where a port's data lives, e.g. "cpu" or "gpu".
// The vocabulary is open: backends register their own names through bridges.
type Capability string

const (
	CPU Capability = "cpu"
	GPU Capability = "gpu"
)

// Capabilities is an ordered capability set. Order expresses preference.
type Capabilities []Capability

// Contains reports whether c is in the set.
func (cs Capabilities) Contains(c Capability) bool {
	return slices.Contains(cs, c)
}

// Intersect returns the members of cs that other also contains, in cs order.
func (cs Capabilities) Intersect(other Capabilities) Capabilities {
	var out Capabilities
	for _, c := range cs {
		if other.Contains(c) && !out.Contains(c) {
			out = append(out, c)
		}
	}
	return out
}

// Strings returns the names for logging.
func (cs Capabilities) Strings() []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = string(c)
	}
	return out
}

// Negotiate picks the capability for a direct connection: the first
// capability in the output's declared order that the input accepts.
// The boolean is false when the sets are disjoint and a bridge is needed.
func Negotiate(out Output, in Input) (Capability, bool) {
	for _, c := range out.Capabilities() {
		if in.Accepts().Contains(c) {
			return c, true
		}
	}
	return "", false
}

func normalizeCapabilities(caps []Capability) Capabilities {
	out := make(Capabilities, 0, len(caps))
	for _, c := range caps {
		if c != "" && !out.Contains(c) {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		out = append(out, CPU)
	}
	return out
}
