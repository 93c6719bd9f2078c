package agent

import "sync"

// ownershipIndex tracks which remote caller created which isolated
// (client-owned, anonymous) instances, so the runtime knows what to reap
// when that caller's last-will fires (spec.md §4.7, §8 S4).
//
// The owning caller is identified by the sender reply topic ("s") carried
// on its __create__ request — the only caller-supplied identifier a
// request document exposes. That same prefix, suffixed with
// __clientInfo__, is the liveness topic the caller is expected to publish
// to and to let the broker tear down via last will (spec.md §4.6).
//
// Named (shared) instances are never recorded here: they outlive any
// single caller by definition (spec.md §3).
type ownershipIndex struct {
	mu       sync.Mutex
	byClient map[string]map[string]string // clientID -> instanceID -> class
	ownerOf  map[string]string            // instanceID -> clientID
}

func newOwnershipIndex() *ownershipIndex {
	return &ownershipIndex{
		byClient: make(map[string]map[string]string),
		ownerOf:  make(map[string]string),
	}
}

// Record adds an isolated instance under clientID. It reports whether
// this is the first isolated instance recorded for clientID, which tells
// the caller whether a new __clientInfo__ subscription is needed.
func (o *ownershipIndex) Record(clientID, instanceID, class string) (firstForClient bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	set, ok := o.byClient[clientID]
	if !ok {
		set = make(map[string]string)
		o.byClient[clientID] = set
	}
	set[instanceID] = class
	o.ownerOf[instanceID] = clientID
	return !ok
}

// Forget removes an instance from the index, reporting its owning client
// (if any) and whether that client now owns zero isolated instances.
func (o *ownershipIndex) Forget(instanceID string) (clientID string, emptied bool, wasOwned bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	clientID, wasOwned = o.ownerOf[instanceID]
	if !wasOwned {
		return "", false, false
	}
	delete(o.ownerOf, instanceID)
	set := o.byClient[clientID]
	delete(set, instanceID)
	if len(set) == 0 {
		delete(o.byClient, clientID)
		return clientID, true, true
	}
	return clientID, false, true
}

// Instances returns a snapshot of clientID's isolated instances
// (instanceID -> class), for reaping.
func (o *ownershipIndex) Instances(clientID string) map[string]string {
	o.mu.Lock()
	defer o.mu.Unlock()
	set := o.byClient[clientID]
	out := make(map[string]string, len(set))
	for id, class := range set {
		out[id] = class
	}
	return out
}

// Release drops every instance owned by clientID from the index, without
// itself deleting the instances from the registry — the caller does that
// and then calls Release once the reap is complete.
func (o *ownershipIndex) Release(clientID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id := range o.byClient[clientID] {
		delete(o.ownerOf, id)
	}
	delete(o.byClient, clientID)
}

// AllInstances returns every isolated instance currently tracked, across
// every owning client, as instanceID -> class. Used to re-establish
// member-function subscriptions on reconnect (spec.md §8 S6).
func (o *ownershipIndex) AllInstances() map[string]string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]string, len(o.ownerOf))
	for id, clientID := range o.ownerOf {
		out[id] = o.byClient[clientID][id]
	}
	return out
}

// Clients returns every clientID currently owning at least one isolated
// instance, used to re-establish __clientInfo__ subscriptions on
// reconnect.
func (o *ownershipIndex) Clients() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.byClient))
	for id := range o.byClient {
		out = append(out, id)
	}
	return out
}
