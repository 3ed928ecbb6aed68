package feeds

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

var (
	regMu    sync.RWMutex
	registry = map[string]Parser{}
)

func Register(format string, p Parser) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[strings.ToLower(format)] = p
}

func Get(format string) (Parser, bool) {
	regMu.RLock()
	defer regMu.RUnlock()
	p, ok := registry[strings.ToLower(format)]
	return p, ok
}

// ForFile picks the parser by file extension (".xml" → "xml").
func ForFile(name string) (Parser, bool) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if ext == "" {
		return nil, false
	}
	return Get(ext)
}

func Formats() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
