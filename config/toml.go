package config

import (
	"fmt"
	"io"
	"sort"

	toml "github.com/pelletier/go-toml"
)

// LoadTOML parses the TOML rendition of the declarative document. Sections
// are tables holding arrays of Key tables, argument entries are arrays of
// tables with key and value:
//
//	[[Queue.Key]]
//	queue = "orders"
//	routingKey = "new"
//	durable = true
//
//	[[Queue.Key.QueueArguments]]
//	key = "x-max-length"
//	value = "1000"
func LoadTOML(r io.Reader) (*Config, error) {
	tree, err := toml.LoadReader(r)
	if err != nil {
		return nil, fmt.Errorf("config: parse document: %w", err)
	}
	if tree == nil || len(tree.Keys()) == 0 {
		return nil, ErrMissingRoot
	}
	return build(tomlNode("", tree))
}

func tomlNode(name string, tree *toml.Tree) node {
	n := node{name: name, attrs: make(map[string]string)}

	keys := tree.Keys()
	sort.Strings(keys)
	for _, key := range keys {
		switch v := tree.GetPath([]string{key}).(type) {
		case *toml.Tree:
			n.children = append(n.children, tomlNode(key, v))
		case []*toml.Tree:
			for _, t := range v {
				n.children = append(n.children, tomlNode(key, t))
			}
		case nil:
		default:
			n.attrs[key] = fmt.Sprint(v)
		}
	}
	return n
}
