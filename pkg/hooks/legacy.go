package hooks

// Info is a packed argument tuple for handlers written against the old
// NakedMud calling convention, where every hook receives one value.
type Info []any

// BuildInfo packs args for Run. The format string is the NakedMud type
// description (e.g. "ch rm"); it is accepted for compatibility and ignored.
func BuildInfo(format string, args ...any) Info {
	return append(Info(nil), args...)
}

// ParseInfo unpacks an Info built by BuildInfo.
func ParseInfo(info Info) []any {
	return append([]any(nil), info...)
}

// LegacyFunc is a handler that receives all positional arguments packed
// into one Info.
type LegacyFunc func(info Info) error

// RegisterLegacy adds an old-style handler to hook. It is called with the
// positional arguments packed into an Info and never sees kwargs.
func (d *Dispatcher) RegisterLegacy(hook string, fn LegacyFunc, opts ...Option) *Handler {
	h := &Handler{
		hook:   hook,
		name:   funcName(fn),
		legacy: true,
		fn: func(c *Call) error {
			return fn(Info(c.Args))
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	d.add(h)
	return h
}
