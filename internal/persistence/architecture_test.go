package persistence

import (
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// TestOnlyPersistencePackageImportsInfra ensures that only the top-level
// persistence package wraps the infra-backed snapshot backends. Other
// production packages must depend on the Backend interface instead of
// importing driver packages directly. Test files may use the memory driver
// for fixtures, so test variants are not loaded.
func TestOnlyPersistencePackageImportsInfra(t *testing.T) {
	infraPrefix := "ticketcore/internal/infra/persistence"
	allowedPrefix := "ticketcore/internal/persistence"

	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports}
	pkgs, err := packages.Load(cfg, "ticketcore/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}

	seen := make(map[string]struct{})

	for _, pkg := range pkgs {
		if strings.HasPrefix(pkg.PkgPath, allowedPrefix) {
			continue
		}
		if strings.HasPrefix(pkg.PkgPath, infraPrefix) {
			continue
		}
		for importPath := range pkg.Imports {
			if isInfraImport(importPath, infraPrefix) {
				pos := filepath.Join(pkg.PkgPath, "...")
				seen[pos+": "+importPath] = struct{}{}
			}
		}
	}

	if len(seen) > 0 {
		violations := make([]string, 0, len(seen))
		for v := range seen {
			violations = append(violations, v)
		}
		sort.Strings(violations)
		for _, v := range violations {
			t.Errorf("forbidden import of infra persistence package: %s", v)
		}
		t.Fatalf("found %d forbidden imports of infra persistence packages", len(violations))
	}
}

func isInfraImport(importPath, prefix string) bool {
	return importPath == prefix || strings.HasPrefix(importPath, prefix+"/")
}
