package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestPredicates(t *testing.T) {
	cases := []struct {
		pred func(string) bool
		in   string
		want bool
	}{
		{InternalImportForbidden, "bizdir/internal/core", true},
		{InternalImportForbidden, "bizdir/pkg/domain", false},
		{PersistenceImportForbidden, "bizdir/internal/infra/persistence/sqlite", true},
		{PersistenceImportForbidden, "bizdir/internal/infra/lock/redislock", false},
		{AssetStoreImportForbidden, "bizdir/internal/blob", true},
		{AssetStoreImportForbidden, "bizdir/internal/infra/blob/s3", true},
		{AssetStoreImportForbidden, "bizdir/internal/assets", true},
		{AssetStoreImportForbidden, "bizdir/internal/fields", false},
	}
	for _, c := range cases {
		if got := c.pred(c.in); got != c.want {
			t.Fatalf("predicate(%q)=%v want %v", c.in, got, c.want)
		}
	}
	combined := AnyOf(PersistenceImportForbidden, AssetStoreImportForbidden)
	if !combined("bizdir/internal/assets") || combined("fmt") {
		t.Fatalf("AnyOf combined predicates incorrectly")
	}
}

type recordingFatal struct {
	msg string
}

func (r *recordingFatal) Fatalf(format string, args ...any) {
	r.msg = fmt.Sprintf(format, args...)
}

func writeFile(t *testing.T, dir, name, src string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestDirectImportViolations(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package tmp\nimport \"bizdir/internal/blob\"\nvar _ blob.Store\n")
	writeFile(t, dir, "b.go", "package tmp\nimport \"fmt\"\nfunc X() { fmt.Println() }\n")
	writeFile(t, dir, "a_test.go", "package tmp\nimport \"bizdir/internal/infra/persistence/memory\"\n")

	viols, err := directImportViolations(dir, AnyOf(PersistenceImportForbidden, AssetStoreImportForbidden))
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || viols[0] != "bizdir/internal/blob (in a.go)" {
		t.Fatalf("unexpected violations %v", viols)
	}

	var rec recordingFatal
	failIfDirectViolations(&rec, "no storage", viols)
	if rec.msg == "" {
		t.Fatalf("expected failure message")
	}
	rec = recordingFatal{}
	failIfDirectViolations(&rec, "no storage", nil)
	if rec.msg != "" {
		t.Fatalf("unexpected failure %q", rec.msg)
	}
}

func TestAssertNoDirectImportsAllowsCleanPackage(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "x.go", "package tmp\nimport \"strings\"\nvar _ = strings.TrimSpace\n")
	AssertNoDirectImports(t, dir, InternalImportForbidden, "leaf package")
}

func TestDirectImportViolationsMissingDir(t *testing.T) {
	if _, err := directImportViolations(filepath.Join(t.TempDir(), "missing"), InternalImportForbidden); err == nil {
		t.Fatalf("expected error for missing directory")
	}
}
