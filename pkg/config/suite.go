package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"

	"github.com/ethpandaops/resultoor/pkg/fsutil"
	"gopkg.in/yaml.v3"
)

// SuiteIDFile returns the config file that should receive a persisted suite
// id for variant: the last file declaring the variant, or the first file.
func SuiteIDFile(paths []string, variant string) (string, error) {
	if len(paths) == 0 {
		return "", fmt.Errorf("no config file given")
	}

	target := paths[0]

	for _, path := range paths {
		root, err := readNode(path)
		if err != nil {
			return "", err
		}

		if lookup(lookup(documentMapping(root), "variants"), variant) != nil {
			target = path
		}
	}

	return target, nil
}

// SaveSuiteID writes variants.<variant>.suite_id into the YAML file at path.
// Every other key, comment and ordering in the file is preserved.
func SaveSuiteID(path, variant string, suiteID int64) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config file: %w", err)
	}

	root, err := readNode(path)
	if err != nil {
		return err
	}

	doc := documentMapping(root)
	if doc == nil {
		root.Kind = yaml.DocumentNode
		doc = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		root.Content = []*yaml.Node{doc}
	}

	variants := ensureMapping(doc, "variants")
	entry := ensureMapping(variants, variant)

	value := &yaml.Node{
		Kind:  yaml.ScalarNode,
		Tag:   "!!int",
		Value: strconv.FormatInt(suiteID, 10),
	}

	if existing := lookup(entry, "suite_id"); existing != nil {
		existing.Kind = yaml.ScalarNode
		existing.Style = 0
		existing.Tag = value.Tag
		existing.Value = value.Value
		existing.Content = nil
	} else {
		entry.Content = append(entry.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: "suite_id"},
			value,
		)
	}

	var buf bytes.Buffer

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)

	if err := enc.Encode(root); err != nil {
		return fmt.Errorf("encoding config file: %w", err)
	}

	if err := enc.Close(); err != nil {
		return fmt.Errorf("encoding config file: %w", err)
	}

	if err := fsutil.WriteFileAtomic(path, buf.Bytes(), info.Mode().Perm(), nil); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

func readNode(path string) (*yaml.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	return &root, nil
}

func documentMapping(root *yaml.Node) *yaml.Node {
	if root == nil || root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil
	}

	if root.Content[0].Kind != yaml.MappingNode {
		return nil
	}

	return root.Content[0]
}

// lookup returns the value node for key in a mapping node.
func lookup(mapping *yaml.Node, key string) *yaml.Node {
	if mapping == nil || mapping.Kind != yaml.MappingNode {
		return nil
	}

	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}

	return nil
}

// ensureMapping returns the mapping stored under key, creating or replacing
// it when absent or null.
func ensureMapping(mapping *yaml.Node, key string) *yaml.Node {
	if existing := lookup(mapping, key); existing != nil {
		if existing.Kind != yaml.MappingNode {
			*existing = yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		}

		return existing
	}

	child := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	mapping.Content = append(mapping.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		child,
	)

	return child
}
