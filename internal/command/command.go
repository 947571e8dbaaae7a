// Package command implements the prefix dispatcher, the command registry
// with hierarchical groups and aliases, and the per-command check chain.
package command

import (
	"fmt"
	"strings"
	"unicode"
)

// ParamKind classifies how one parameter is filled from message tokens.
type ParamKind int

const (
	// Positional parameters are required.
	Positional ParamKind = iota
	// Optional parameters may be omitted.
	Optional
	// Variadic parameters absorb all remaining tokens.
	Variadic
	// KeywordOnly parameters are filled by the handler itself (bound state,
	// invocation context) and never appear in the user-facing signature.
	KeywordOnly
)

// Param describes one command parameter.
type Param struct {
	Name string
	Kind ParamKind
	// Consume makes a trailing parameter swallow the rest of the message
	// verbatim, spaces included.
	Consume bool
}

// Command is the registry record for a single command or group.
type Command struct {
	Name    string
	Aliases []string
	Cog     string
	Help    string
	Hidden  bool
	Enabled bool

	Params   []Param
	Cooldown *Cooldown
	Checks   []Check

	// Run may be nil for pure groups; the dispatcher then falls back to a
	// help rendering of the group.
	Run func(ctx *Context) error

	// Bound carries per-registration state for dynamically added commands
	// that share a generic handler (one command per subreddit, per twitter
	// user). Handlers fetch it via ctx.Command.Bound.
	Bound any

	parent      *Command
	subcommands map[string]*Command
	subAliases  map[string]string
}

// New returns an enabled command.
func New(name, help string, run func(ctx *Context) error) *Command {
	return &Command{
		Name:    name,
		Help:    help,
		Enabled: true,
		Run:     run,
	}
}

// QualifiedName is the full invocation path, e.g. "reddit add".
func (c *Command) QualifiedName() string {
	if c.parent == nil {
		return c.Name
	}
	return c.parent.QualifiedName() + " " + c.Name
}

// AddSubcommand attaches a child command, making c a group.
func (c *Command) AddSubcommand(sub *Command) error {
	if c.subcommands == nil {
		c.subcommands = make(map[string]*Command)
		c.subAliases = make(map[string]string)
	}
	if _, ok := c.lookupChild(sub.Name); ok {
		return fmt.Errorf("subcommand %q already registered under %q", sub.Name, c.Name)
	}
	for _, a := range sub.Aliases {
		if _, ok := c.lookupChild(a); ok {
			return fmt.Errorf("subcommand alias %q already registered under %q", a, c.Name)
		}
	}
	sub.parent = c
	c.subcommands[sub.Name] = sub
	for _, a := range sub.Aliases {
		c.subAliases[a] = sub.Name
	}
	return nil
}

// Subcommands returns the children of a group, or nil.
func (c *Command) Subcommands() map[string]*Command { return c.subcommands }

func (c *Command) lookupChild(token string) (*Command, bool) {
	if sub, ok := c.subcommands[token]; ok {
		return sub, true
	}
	if name, ok := c.subAliases[token]; ok {
		return c.subcommands[name], true
	}
	return nil, false
}

// descend resolves group children token by token, returning the deepest
// command and the tokens left over as arguments.
func (c *Command) descend(tokens []string) (*Command, []string) {
	cur := c
	for len(tokens) > 0 {
		sub, ok := cur.lookupChild(tokens[0])
		if !ok {
			break
		}
		cur = sub
		tokens = tokens[1:]
	}
	return cur, tokens
}

// Usage renders the user-facing signature. Keyword-only parameters are
// excluded: they are bound by the handler, not supplied by the user.
func (c *Command) Usage() string {
	var b strings.Builder
	b.WriteString(c.QualifiedName())
	for _, p := range c.Params {
		switch p.Kind {
		case Positional:
			fmt.Fprintf(&b, " <%s>", p.Name)
		case Optional:
			fmt.Fprintf(&b, " [%s]", p.Name)
		case Variadic:
			fmt.Fprintf(&b, " [%s...]", p.Name)
		case KeywordOnly:
			// hidden from the signature
		}
	}
	return b.String()
}

// AllChecks returns the check chain from the outermost group down to c,
// so group-level restrictions cover every subcommand.
func (c *Command) AllChecks() []Check {
	if c.parent == nil {
		return append([]Check{}, c.Checks...)
	}
	return append(c.parent.AllChecks(), c.Checks...)
}

// CheckPrefixes collects the help prefixes of attached checks, e.g.
// "ADMIN:", so help text advertises restrictions.
func (c *Command) CheckPrefixes() []string {
	var prefixes []string
	for _, chk := range c.Checks {
		if chk.Prefix != "" {
			prefixes = append(prefixes, chk.Prefix)
		}
	}
	return prefixes
}

// OneLiner is the help line with check prefixes prepended.
func (c *Command) OneLiner() string {
	parts := append(c.CheckPrefixes(), c.Help)
	return strings.Join(parts, " ")
}

// convertArgs validates tokens against the parameter list. Conversion
// failures must surface before any check runs.
func convertArgs(c *Command, tokens []string, raw string) ([]string, error) {
	var required, visible int
	var last *Param
	for i := range c.Params {
		p := &c.Params[i]
		if p.Kind == KeywordOnly {
			continue
		}
		visible++
		if p.Kind == Positional {
			required++
		}
		last = p
	}

	if len(tokens) < required {
		return nil, &BadArgumentError{
			Message: fmt.Sprintf("missing required argument(s) for `%s`", c.QualifiedName()),
			Usage:   c.Usage(),
		}
	}

	// A trailing consume or variadic parameter absorbs everything.
	if last != nil && (last.Consume || last.Kind == Variadic) {
		if last.Consume && len(tokens) > visible-1 {
			head := tokens[:visible-1]
			tail := tailAfterFields(raw, len(head))
			if tail == "" {
				tail = strings.Join(tokens[visible-1:], " ")
			}
			return append(append([]string{}, head...), tail), nil
		}
		return tokens, nil
	}

	if len(tokens) > visible {
		return nil, &BadArgumentError{
			Message: fmt.Sprintf("too many arguments for `%s`", c.QualifiedName()),
			Usage:   c.Usage(),
		}
	}
	return tokens, nil
}

// tailAfterFields returns the verbatim remainder of s after the first n
// whitespace-separated fields, preserving interior spacing. Fields are
// delimited the way strings.Fields splits, so token counts line up with the
// dispatcher's tokenization.
func tailAfterFields(s string, n int) string {
	rest := s
	for i := 0; i < n; i++ {
		rest = strings.TrimLeftFunc(rest, unicode.IsSpace)
		end := strings.IndexFunc(rest, unicode.IsSpace)
		if end < 0 {
			return ""
		}
		rest = rest[end:]
	}
	return strings.TrimSpace(rest)
}
