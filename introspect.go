package parlance

import "sync"

// Introspector is an explicit process-wide registry of live clients, meant
// for devtools and diagnostics. Clients join it when constructed with
// `WithIntrospection` and leave it on `Close`; nothing is registered
// implicitly.
type Introspector struct {
	lk      sync.Mutex
	clients map[string]*Client
}

func NewIntrospector() *Introspector {
	return &Introspector{clients: make(map[string]*Client)}
}

// Instances lists the instance IDs of the registered clients.
func (in *Introspector) Instances() []string {
	in.lk.Lock()
	defer in.lk.Unlock()
	ids := make([]string, 0, len(in.clients))
	for id := range in.clients {
		ids = append(ids, id)
	}
	return ids
}

// Lookup resolves a client by instance ID.
func (in *Introspector) Lookup(instanceID string) (*Client, bool) {
	in.lk.Lock()
	defer in.lk.Unlock()
	c, ok := in.clients[instanceID]
	return c, ok
}

func (in *Introspector) register(c *Client) {
	in.lk.Lock()
	defer in.lk.Unlock()
	in.clients[c.instanceID] = c
}

func (in *Introspector) deregister(instanceID string) {
	in.lk.Lock()
	defer in.lk.Unlock()
	delete(in.clients, instanceID)
}
