// Command cleanarchguard checks that the domain, services, infrastructure and presentation layers
// of every module only import inwards.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/roblaszczak/go-cleanarch/cleanarch"
	"gopkg.in/yaml.v3"
)

type config struct {
	Version           int      `yaml:"version"`
	Root              string   `yaml:"root"`
	IgnoreTests       bool     `yaml:"ignore_tests"`
	IgnorePackages    []string `yaml:"ignore_packages"`
	SharedModules     []string `yaml:"shared_modules"`
	AllowedViolations []string `yaml:"allow_violations"`
	Layers            struct {
		Domain         []string `yaml:"domain"`
		Application    []string `yaml:"application"`
		Interfaces     []string `yaml:"interfaces"`
		Infrastructure []string `yaml:"infrastructure"`
	} `yaml:"layers"`
}

var defaultLayers = map[cleanarch.Layer][]string{
	cleanarch.LayerDomain:         {"domain"},
	cleanarch.LayerApplication:    {"services", "handlers"},
	cleanarch.LayerInterfaces:     {"presentation"},
	cleanarch.LayerInfrastructure: {"infrastructure"},
}

func main() {
	configPath := flag.String("config", ".gocleanarch.yml", "path to the guard configuration")
	debug := flag.Bool("debug", false, "print go-cleanarch debug output")
	flag.Parse()

	if *debug {
		cleanarch.Log.SetOutput(os.Stderr)
	}

	violations, err := run(*configPath)
	if err != nil {
		log.Fatalf("cleanarchguard: %v", err)
	}
	if len(violations) > 0 {
		for _, v := range violations {
			log.Println(v)
		}
		log.Printf("cleanarchguard: %d layer violation(s)", len(violations))
		os.Exit(1)
	}
	log.Println("cleanarchguard: ok")
}

func run(configPath string) ([]string, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", configPath, err)
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, err
	}

	validator := cleanarch.NewValidator(cfg.aliases())
	ok, errs, err := validator.Validate(root, cfg.IgnoreTests, cfg.IgnorePackages)
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, nil
	}

	messages := make([]string, 0, len(errs))
	for _, e := range errs {
		messages = append(messages, e.Error())
	}
	return cfg.filter(messages), nil
}

func loadConfig(path string) (*config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseConfig(data)
}

func parseConfig(data []byte) (*config, error) {
	cfg := &config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if cfg.Version != 0 && cfg.Version != 1 {
		return nil, errors.New("unsupported config version")
	}
	if strings.TrimSpace(cfg.Root) == "" {
		cfg.Root = "."
	}
	return cfg, nil
}

func (c *config) aliases() map[string]cleanarch.Layer {
	custom := map[cleanarch.Layer][]string{
		cleanarch.LayerDomain:         c.Layers.Domain,
		cleanarch.LayerApplication:    c.Layers.Application,
		cleanarch.LayerInterfaces:     c.Layers.Interfaces,
		cleanarch.LayerInfrastructure: c.Layers.Infrastructure,
	}
	out := map[string]cleanarch.Layer{}
	for layer, names := range defaultLayers {
		if len(custom[layer]) > 0 {
			names = custom[layer]
		}
		for _, name := range names {
			if name = strings.TrimSpace(name); name != "" {
				out[name] = layer
			}
		}
	}
	return out
}

var crossModulePattern = regexp.MustCompile(`between ([\w-]+) and ([\w-]+) modules`)

// filter drops violations that touch a shared module or match an allow-listed substring.
func (c *config) filter(messages []string) []string {
	shared := map[string]bool{}
	for _, m := range c.SharedModules {
		if m = strings.TrimSpace(m); m != "" {
			shared[m] = true
		}
	}

	var out []string
	for _, msg := range messages {
		if m := crossModulePattern.FindStringSubmatch(msg); len(m) == 3 && (shared[m[1]] || shared[m[2]]) {
			continue
		}
		if c.allowed(msg) {
			continue
		}
		out = append(out, msg)
	}
	return out
}

func (c *config) allowed(msg string) bool {
	for _, pattern := range c.AllowedViolations {
		if pattern != "" && strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
