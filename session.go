package parlance

import (
	"fmt"
	"slices"
	"sync"
)

// sessionTable is the per-channel client-ID ↔ token mapping. Both
// directions are kept consistent under one mutex: a client ID maps to its
// token iff the token's client set contains that ID. Concurrent
// connections sharing a token are tracked as independent client IDs.
type sessionTable struct {
	lk      sync.Mutex
	clients map[string]string
	tokens  map[string][]string
}

func newSessionTable() *sessionTable {
	return &sessionTable{
		clients: make(map[string]string),
		tokens:  make(map[string][]string),
	}
}

func (st *sessionTable) bind(clientID, token string) {
	st.lk.Lock()
	defer st.lk.Unlock()
	st.clients[clientID] = token
	st.tokens[token] = append(st.tokens[token], clientID)
}

// drop removes both directions. Safe to call for an unknown client; the
// caller guarantees at-most-once per connection.
func (st *sessionTable) drop(clientID string) {
	st.lk.Lock()
	defer st.lk.Unlock()
	token, ok := st.clients[clientID]
	if !ok {
		return
	}
	delete(st.clients, clientID)

	ids := st.tokens[token]
	if i := slices.Index(ids, clientID); i >= 0 {
		ids = append(ids[:i:i], ids[i+1:]...)
	}
	if len(ids) == 0 {
		delete(st.tokens, token)
	} else {
		st.tokens[token] = ids
	}
}

func (st *sessionTable) tokenFor(clientID string) (string, error) {
	st.lk.Lock()
	defer st.lk.Unlock()
	token, ok := st.clients[clientID]
	if !ok {
		return "", fmt.Errorf("%w: client %q", ErrNotFound, clientID)
	}
	return token, nil
}

// clientIDFor returns the most recently bound client for the token.
func (st *sessionTable) clientIDFor(token string) (string, error) {
	st.lk.Lock()
	defer st.lk.Unlock()
	ids := st.tokens[token]
	if len(ids) == 0 {
		return "", fmt.Errorf("%w: token", ErrNotFound)
	}
	return ids[len(ids)-1], nil
}

func (st *sessionTable) isTokenActive(token string) bool {
	st.lk.Lock()
	defer st.lk.Unlock()
	return len(st.tokens[token]) > 0
}

func (st *sessionTable) isClientActive(clientID string) bool {
	st.lk.Lock()
	defer st.lk.Unlock()
	_, ok := st.clients[clientID]
	return ok
}

func (st *sessionTable) size() int {
	st.lk.Lock()
	defer st.lk.Unlock()
	return len(st.clients)
}
