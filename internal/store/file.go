// Package store provides durable on-disk documents for configuration and
// access data, plus the optional MongoDB-backed processing history.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Tree is a generic nested key-value document as decoded from YAML.
type Tree = map[string]any

// Merge recursively merges update into target and returns target. Keys whose
// values are maps on both sides merge key-wise; any other value from update
// replaces the target value wholesale. A nil update leaves target untouched.
func Merge(target, update Tree) Tree {
	if target == nil {
		target = Tree{}
	}
	for key, value := range update {
		updateMap, updateIsMap := asTree(value)
		targetMap, targetIsMap := asTree(target[key])
		if updateIsMap && targetIsMap {
			target[key] = Merge(targetMap, updateMap)
			continue
		}
		if updateIsMap {
			target[key] = Merge(Tree{}, updateMap)
			continue
		}
		target[key] = value
	}
	return target
}

// Load reads the YAML document at path and deep-merges it over defaults. The
// second return value reports whether the file existed; when it does not,
// defaults are returned unmodified.
func Load(path string, defaults Tree) (Tree, bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaults, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", path, err)
	}

	var loaded Tree
	if err := yaml.Unmarshal(raw, &loaded); err != nil {
		return nil, true, fmt.Errorf("parse %s: %w", path, err)
	}

	return Merge(defaults, loaded), true, nil
}

// Save serializes doc as YAML and replaces the file at path via a temporary
// file and rename, so a crash mid-write never leaves a truncated document.
func Save(path string, doc any) error {
	raw, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s to %s: %w", tmpName, path, err)
	}

	return nil
}

// asTree normalizes the map shapes the YAML decoder produces into a Tree.
func asTree(value any) (Tree, bool) {
	switch v := value.(type) {
	case Tree:
		return v, true
	case map[any]any:
		tree := make(Tree, len(v))
		for key, val := range v {
			tree[fmt.Sprint(key)] = val
		}
		return tree, true
	default:
		return nil, false
	}
}
