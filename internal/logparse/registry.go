// Package logparse provides the parser registry and the shipped log
// format parsers. Parsers are capability-based: each one decides whether
// it can handle an artifact before it is invoked.
package logparse

import "github.com/threatline/threatline/internal/orchestrator"

// Registry resolves a parser for an artifact. Parsers are consulted in
// priority order; the first whose Matches returns true wins.
type Registry struct {
	parsers []orchestrator.Parser
}

// NewRegistry creates a Registry with the given priority order.
func NewRegistry(parsers ...orchestrator.Parser) *Registry {
	return &Registry{parsers: parsers}
}

// Default returns the registry of shipped parsers: JSON lines, syslog,
// then the plain-text fallback.
func Default() *Registry {
	return NewRegistry(&JSONLinesParser{}, &SyslogParser{}, &PlainTextParser{})
}

// Resolve picks a parser. A non-empty preferred id is tried first; when
// it is unknown or does not match the content, the priority scan runs.
func (r *Registry) Resolve(filename string, content []byte, preferred string) (orchestrator.Parser, bool) {
	if preferred != "" {
		for _, p := range r.parsers {
			if p.ID() == preferred && p.Matches(filename, content) {
				return p, true
			}
		}
	}
	for _, p := range r.parsers {
		if p.Matches(filename, content) {
			return p, true
		}
	}
	return nil, false
}
