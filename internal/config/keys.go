package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"
)

// Entry is one leaf setting, keyed by its dot-separated YAML path.
type Entry struct {
	Key     string
	Value   any
	Default any
	Changed bool
	Secret  bool
}

var secretKeys = map[string]bool{
	"storage.dsn": true,
}

func IsSecretKey(key string) bool {
	return secretKeys[key]
}

// Entries lists every setting of cfg in file order next to its default.
// With mask set, secret values keep only their last four characters.
func Entries(cfg *Config, mask bool) ([]Entry, error) {
	cur, err := toNode(cfg)
	if err != nil {
		return nil, err
	}
	def, err := toNode(Defaults())
	if err != nil {
		return nil, err
	}

	var out []Entry
	err = walkLeaves(cur, "", func(key string, n *yaml.Node) error {
		value, err := decodeNode(n)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		var dflt any
		if d := lookup(def, key); d != nil {
			if dflt, err = decodeNode(d); err != nil {
				return fmt.Errorf("%s default: %w", key, err)
			}
		}
		e := Entry{
			Key:     key,
			Value:   value,
			Default: dflt,
			Changed: !reflect.DeepEqual(value, dflt),
			Secret:  IsSecretKey(key),
		}
		if mask && e.Secret {
			e.Value = maskSecret(e.Value)
			e.Default = maskSecret(e.Default)
		}
		out = append(out, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetValue loads the config at path, env overrides included, and returns
// the typed value at key.
func GetValue(path, key string) (any, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	root, err := toNode(cfg)
	if err != nil {
		return nil, err
	}
	n := lookup(root, key)
	if n == nil || n.Kind == yaml.MappingNode {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return decodeNode(n)
}

// SetValue stores value at key in the file at path. The value is read as
// YAML and coerced to the kind of the setting: strings stay strings, and
// list settings also accept a comma-separated list. The rest of the file,
// comments included, is left as written. The file must already exist and
// the result must still load.
func SetValue(path, key, value string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if len(doc.Content) == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{mappingNode()}}
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return fmt.Errorf("parse config: top level is not a mapping")
	}

	def, err := toNode(Defaults())
	if err != nil {
		return err
	}
	want := lookup(def, key)
	if want == nil || want.Kind == yaml.MappingNode {
		return fmt.Errorf("unknown config key: %s", key)
	}
	if err := setPath(root, key, parseValue(value, want)); err != nil {
		return err
	}

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	check := Defaults()
	if err := yaml.Unmarshal(out, check); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if err := check.Validate(); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return writeFile(path, out)
}

func toNode(cfg *Config) (*yaml.Node, error) {
	var n yaml.Node
	if err := n.Encode(cfg); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return &n, nil
}

func decodeNode(n *yaml.Node) (any, error) {
	var v any
	if err := n.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func mappingNode() *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
}

func strNode(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

// walkLeaves calls fn for every non-mapping node below n. Sequences are
// leaves. Empty sections produce nothing.
func walkLeaves(n *yaml.Node, prefix string, fn func(key string, n *yaml.Node) error) error {
	if n.Kind != yaml.MappingNode {
		return fn(prefix, n)
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		key := n.Content[i].Value
		if prefix != "" {
			key = prefix + "." + key
		}
		if err := walkLeaves(n.Content[i+1], key, fn); err != nil {
			return err
		}
	}
	return nil
}

func mappingIndex(n *yaml.Node, key string) int {
	if n.Kind != yaml.MappingNode {
		return -1
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return i
		}
	}
	return -1
}

func lookup(root *yaml.Node, key string) *yaml.Node {
	cur := root
	for _, part := range strings.Split(key, ".") {
		i := mappingIndex(cur, part)
		if i < 0 {
			return nil
		}
		cur = cur.Content[i+1]
	}
	return cur
}

// setPath replaces or appends the value at key, creating missing sections.
func setPath(root *yaml.Node, key string, value *yaml.Node) error {
	parts := strings.Split(key, ".")
	cur := root
	for depth, part := range parts {
		i := mappingIndex(cur, part)
		if depth == len(parts)-1 {
			if i < 0 {
				cur.Content = append(cur.Content, strNode(part), value)
				return nil
			}
			old := cur.Content[i+1]
			value.LineComment = old.LineComment
			value.FootComment = old.FootComment
			cur.Content[i+1] = value
			return nil
		}
		if i < 0 {
			child := mappingNode()
			cur.Content = append(cur.Content, strNode(part), child)
			cur = child
			continue
		}
		next := cur.Content[i+1]
		if next.Kind == yaml.ScalarNode && next.ShortTag() == "!!null" {
			*next = *mappingNode()
		}
		if next.Kind != yaml.MappingNode {
			return fmt.Errorf("%s is not a section", strings.Join(parts[:depth+1], "."))
		}
		cur = next
	}
	return nil
}

// parseValue reads value as YAML shaped like want.
func parseValue(value string, want *yaml.Node) *yaml.Node {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(value), &doc); err == nil && len(doc.Content) == 1 {
		n := doc.Content[0]
		if n.Kind == want.Kind {
			if n.Kind == yaml.ScalarNode && want.ShortTag() == "!!str" {
				n.Tag = "!!str"
				n.Style = 0
			}
			return n
		}
	}
	if want.Kind == yaml.SequenceNode {
		seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				seq.Content = append(seq.Content, strNode(part))
			}
		}
		return seq
	}
	return strNode(value)
}

func maskSecret(v any) any {
	s, ok := v.(string)
	if !ok || s == "" {
		return v
	}
	if len(s) <= 4 {
		return "***" + s
	}
	return "***" + s[len(s)-4:]
}
