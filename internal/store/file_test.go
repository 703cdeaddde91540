package store

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestMergeNestedMapsKeyWise(t *testing.T) {
	target := Tree{
		"access": Tree{
			"token": "",
			"file":  "access.yaml",
		},
		"pdf": Tree{"dpi": 100},
	}
	update := Tree{
		"access": Tree{"token": "abc"},
		"extra":  "value",
	}

	merged := Merge(target, update)

	accessTree, ok := merged["access"].(Tree)
	if !ok {
		t.Fatalf("expected access subtree, got %T", merged["access"])
	}
	if accessTree["token"] != "abc" {
		t.Fatalf("expected token override, got %v", accessTree["token"])
	}
	if accessTree["file"] != "access.yaml" {
		t.Fatalf("expected untouched sibling key, got %v", accessTree["file"])
	}
	if merged["extra"] != "value" {
		t.Fatalf("expected new key to be added, got %v", merged["extra"])
	}

	pdfTree, ok := merged["pdf"].(Tree)
	if !ok || pdfTree["dpi"] != 100 {
		t.Fatalf("expected pdf defaults preserved, got %v", merged["pdf"])
	}
}

func TestMergeNonMapReplacesWholesale(t *testing.T) {
	target := Tree{"logging": Tree{"level": "info", "file": "bot.log"}}
	update := Tree{"logging": "disabled"}

	merged := Merge(target, update)

	if merged["logging"] != "disabled" {
		t.Fatalf("expected scalar to replace subtree, got %v", merged["logging"])
	}
}

func TestMergeIdempotent(t *testing.T) {
	doc := Tree{
		"a": Tree{"b": 1, "c": "x"},
		"d": []any{1, 2},
	}
	expected := Tree{
		"a": Tree{"b": 1, "c": "x"},
		"d": []any{1, 2},
	}

	merged := Merge(doc, doc)

	if !reflect.DeepEqual(merged, expected) {
		t.Fatalf("expected merge of document into itself to be unchanged, got %v", merged)
	}
}

func TestMergeEmptyUpdateChangesNothing(t *testing.T) {
	target := Tree{"a": Tree{"b": 1}}
	expected := Tree{"a": Tree{"b": 1}}

	if merged := Merge(target, nil); !reflect.DeepEqual(merged, expected) {
		t.Fatalf("expected nil update to change nothing, got %v", merged)
	}
	if merged := Merge(target, Tree{}); !reflect.DeepEqual(merged, expected) {
		t.Fatalf("expected empty update to change nothing, got %v", merged)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	defaults := Tree{"a": "default"}

	merged, existed, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), defaults)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if existed {
		t.Fatalf("expected existed=false for missing file")
	}
	if merged["a"] != "default" {
		t.Fatalf("expected defaults back, got %v", merged)
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf.yaml")
	content := "access:\n  token: secret\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	defaults := Tree{
		"access": Tree{"token": "", "file": "access.yaml"},
	}

	merged, existed, err := Load(path, defaults)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !existed {
		t.Fatalf("expected existed=true")
	}

	accessTree, ok := merged["access"].(Tree)
	if !ok {
		t.Fatalf("expected access subtree, got %T", merged["access"])
	}
	if accessTree["token"] != "secret" {
		t.Fatalf("expected token from file, got %v", accessTree["token"])
	}
	if accessTree["file"] != "access.yaml" {
		t.Fatalf("expected default file kept, got %v", accessTree["file"])
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf.yaml")
	if err := os.WriteFile(path, []byte("a: [unclosed"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	if _, _, err := Load(path, Tree{}); err == nil {
		t.Fatalf("expected parse error for malformed document")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.yaml")
	doc := Tree{"access": Tree{"token": "abc"}, "count": 3}

	if err := Save(path, doc); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	loaded, existed, err := Load(path, Tree{})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !existed {
		t.Fatalf("expected saved file to exist")
	}

	accessTree, ok := loaded["access"].(Tree)
	if !ok || accessTree["token"] != "abc" {
		t.Fatalf("unexpected round-trip content: %v", loaded)
	}
	if loaded["count"] != 3 {
		t.Fatalf("expected count 3, got %v", loaded["count"])
	}
}

func TestSaveReplacesWithoutLeavingTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.yaml")

	if err := Save(path, Tree{"v": 1}); err != nil {
		t.Fatalf("first Save returned error: %v", err)
	}
	if err := Save(path, Tree{"v": 2}); err != nil {
		t.Fatalf("second Save returned error: %v", err)
	}

	loaded, _, err := Load(path, Tree{})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if loaded["v"] != 2 {
		t.Fatalf("expected second write to win, got %v", loaded["v"])
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the target file in %s, found %d entries", dir, len(entries))
	}
}
