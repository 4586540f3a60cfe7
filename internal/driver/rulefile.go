package driver

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Rule is one named build target from the TOML rule file: its declared
// dependencies (other rule names; LoadRuleFile does not check that they
// exist, so an unknown name fails only when it is executed), the source
// files it reads directly (watched in --watch mode and stat-compared
// against the recorded stamp), and the command that produces its value
// (an argument vector run directly, not through a shell).
type Rule struct {
	Name    string   `mapstructure:"name"`
	Depends []string `mapstructure:"depends"`
	Sources []string `mapstructure:"sources"`
	Command []string `mapstructure:"command"`
}

// RuleFile is the parsed TOML document: a flat list of rules, the
// depdb rule-matching logic the core spec treats as an external
// collaborator (spec.md §1's "Out of scope" list).
type RuleFile struct {
	Rules []Rule `mapstructure:"rules"`

	path   string
	byName map[string]Rule
}

// LoadRuleFile reads and parses the TOML rule file at path using a
// standalone viper instance (a fresh *viper.Viper per config file) rather
// than the package-global instance.
func LoadRuleFile(path string) (*RuleFile, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("driver: read rule file %s: %w", path, err)
	}

	var rf RuleFile
	if err := v.Unmarshal(&rf); err != nil {
		return nil, fmt.Errorf("driver: parse rule file %s: %w", path, err)
	}

	rf.path = path
	rf.byName = make(map[string]Rule, len(rf.Rules))
	for _, r := range rf.Rules {
		if r.Name == "" {
			return nil, fmt.Errorf("driver: rule file %s: rule with no name", path)
		}
		if _, dup := rf.byName[r.Name]; dup {
			return nil, fmt.Errorf("driver: rule file %s: duplicate rule %q", path, r.Name)
		}
		rf.byName[r.Name] = r
	}
	return &rf, nil
}

// Rule looks up a named rule.
func (rf *RuleFile) Rule(name string) (Rule, bool) {
	r, ok := rf.byName[name]
	return r, ok
}

// Names returns every rule name in the file, in declaration order.
func (rf *RuleFile) Names() []string {
	names := make([]string, len(rf.Rules))
	for i, r := range rf.Rules {
		names[i] = r.Name
	}
	return names
}

// sourceKey namespaces a source-file path into a depdb key distinct from
// any rule name.
func sourceKey(path string) string {
	return "file:" + path
}

func isSourceKey(key string) bool {
	return strings.HasPrefix(key, "file:")
}

func sourcePath(key string) string {
	return strings.TrimPrefix(key, "file:")
}

// depGroup returns the single dependency group observed for a rule: its
// declared rule dependencies followed by its declared source files, the
// order they'd naturally be demanded in during one recipe run.
func (rf *RuleFile) depGroup(r Rule) []any {
	group := make([]any, 0, len(r.Depends)+len(r.Sources))
	for _, d := range r.Depends {
		group = append(group, d)
	}
	for _, s := range r.Sources {
		group = append(group, sourceKey(s))
	}
	return group
}
