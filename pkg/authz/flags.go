package authz

import (
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode is the global enforcement mode.
type Mode string

const (
	ModeDisabled Mode = "disabled"
	// ModeShadow evaluates and logs denials without blocking.
	ModeShadow  Mode = "shadow"
	ModeEnforce Mode = "enforce"
)

// ParseMode maps unknown values to shadow so a typo never silently disables checks.
func ParseMode(v string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(v))) {
	case ModeDisabled:
		return ModeDisabled
	case ModeEnforce:
		return ModeEnforce
	default:
		return ModeShadow
	}
}

type FlagProvider interface {
	Mode() Mode
}

// StaticMode is a FlagProvider that never changes.
type StaticMode Mode

func (m StaticMode) Mode() Mode { return ParseMode(string(m)) }

// FileFlagProvider reads `mode:` from a YAML file and re-parses it only when the file changes.
// While the file is missing or unreadable the last good mode stays in effect.
type FileFlagProvider struct {
	path string

	mu      sync.Mutex
	mode    Mode
	modTime time.Time
	size    int64
}

func NewFileFlagProvider(path string, fallback Mode) *FileFlagProvider {
	return &FileFlagProvider{path: path, mode: fallback}
}

func (p *FileFlagProvider) Mode() Mode {
	p.mu.Lock()
	defer p.mu.Unlock()

	info, err := os.Stat(p.path)
	if err != nil || (info.ModTime().Equal(p.modTime) && info.Size() == p.size) {
		return p.mode
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		return p.mode
	}
	var flags struct {
		Mode string `yaml:"mode"`
	}
	if err := yaml.Unmarshal(data, &flags); err != nil {
		return p.mode
	}
	p.mode = ParseMode(flags.Mode)
	p.modTime = info.ModTime()
	p.size = info.Size()
	return p.mode
}
