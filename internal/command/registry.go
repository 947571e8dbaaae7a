package command

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds every top-level command and its aliases. Dynamic features
// register and unregister commands at runtime, so access is locked.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]*Command
	aliases  map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		commands: make(map[string]*Command),
		aliases:  make(map[string]string),
	}
}

// Register adds a top-level command. Name and alias collisions are errors.
func (r *Registry) Register(cmd *Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.lookupLocked(cmd.Name); ok {
		return fmt.Errorf("command %q already registered", cmd.Name)
	}
	for _, a := range cmd.Aliases {
		if _, ok := r.lookupLocked(a); ok {
			return fmt.Errorf("alias %q already registered", a)
		}
	}
	r.commands[cmd.Name] = cmd
	for _, a := range cmd.Aliases {
		r.aliases[a] = cmd.Name
	}
	return nil
}

// Unregister removes a command and all of its aliases.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cmd, ok := r.commands[name]
	if !ok {
		return false
	}
	delete(r.commands, name)
	for _, a := range cmd.Aliases {
		delete(r.aliases, a)
	}
	return true
}

func (r *Registry) lookupLocked(token string) (*Command, bool) {
	if cmd, ok := r.commands[token]; ok {
		return cmd, true
	}
	if name, ok := r.aliases[token]; ok {
		return r.commands[name], true
	}
	return nil, false
}

// Resolve maps message tokens to the deepest matching command, descending
// into groups. The second return value is the tokens left over as
// arguments.
func (r *Registry) Resolve(tokens []string) (*Command, []string, bool) {
	if len(tokens) == 0 {
		return nil, nil, false
	}
	r.mu.RLock()
	root, ok := r.lookupLocked(tokens[0])
	r.mu.RUnlock()
	if !ok {
		return nil, nil, false
	}
	cmd, rest := root.descend(tokens[1:])
	return cmd, rest, true
}

// Get returns a top-level command by name or alias.
func (r *Registry) Get(token string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lookupLocked(token)
}

// All returns every top-level command sorted by name.
func (r *Registry) All() []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		out = append(out, cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ByCog groups visible top-level commands by cog name.
func (r *Registry) ByCog() map[string][]*Command {
	grouped := make(map[string][]*Command)
	for _, cmd := range r.All() {
		if cmd.Hidden {
			continue
		}
		grouped[cmd.Cog] = append(grouped[cmd.Cog], cmd)
	}
	return grouped
}
