package notify

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Factory builds a notifier from its raw JSON config.
type Factory func(log zerolog.Logger, raw json.RawMessage) (Notifier, error)

var (
	regMu    sync.RWMutex
	registry = map[string]Factory{}
)

func Register(name string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[name] = f
}

func Get(name string) (Factory, bool) {
	regMu.RLock()
	defer regMu.RUnlock()
	f, ok := registry[name]
	return f, ok
}

// Build instantiates every configured notifier (in name order).
// Unknown names are an error so a typo in config.json does not go unnoticed.
func Build(log zerolog.Logger, raw map[string]json.RawMessage) (Notifier, error) {
	if len(raw) == 0 {
		return Nop{}, nil
	}
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	var out Multi
	for _, name := range names {
		f, ok := Get(name)
		if !ok {
			return nil, fmt.Errorf("notify: no factory for %q", name)
		}
		n, err := f(log.With().Str("notifier", name).Logger(), raw[name])
		if err != nil {
			return nil, fmt.Errorf("notify: init %s: %w", name, err)
		}
		out = append(out, n)
	}
	return out, nil
}
