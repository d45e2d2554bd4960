// Package session mantém a associação entre conexões vivas e a
// identidade autenticada de cada uma.
package session

import (
	"sync"
	"sync/atomic"
)

// ID identifica uma conexão
type ID uint64

// Table associa cada conexão viva a um usuário opcional.
// Cada conexão roda em sua própria goroutine, daí o mutex.
type Table struct {
	mu       sync.RWMutex
	sessions map[ID]string
	next     atomic.Uint64
}

// NewTable cria uma tabela vazia
func NewTable() *Table {
	return &Table{
		sessions: make(map[ID]string),
	}
}

// Open registra uma nova conexão não autenticada e retorna seu ID
func (t *Table) Open() ID {
	id := ID(t.next.Add(1))

	t.mu.Lock()
	t.sessions[id] = ""
	t.mu.Unlock()

	return id
}

// Bind associa a conexão a um usuário. Retorna false se a conexão não existe.
func (t *Table) Bind(id ID, username string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.sessions[id]; !ok {
		return false
	}
	t.sessions[id] = username
	return true
}

// Unbind remove a identidade da conexão, mantendo-a registrada
func (t *Table) Unbind(id ID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.sessions[id]; ok {
		t.sessions[id] = ""
	}
}

// Lookup retorna o usuário associado à conexão, se houver
func (t *Table) Lookup(id ID) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	username := t.sessions[id]
	return username, username != ""
}

// Drop remove a conexão da tabela
func (t *Table) Drop(id ID) {
	t.mu.Lock()
	delete(t.sessions, id)
	t.mu.Unlock()
}

// Len retorna o número de conexões registradas
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.sessions)
}

// Authenticated retorna o número de conexões autenticadas
func (t *Table) Authenticated() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, username := range t.sessions {
		if username != "" {
			n++
		}
	}
	return n
}
