package main

import (
	"slices"
	"sort"
	"strings"
	"sync"
	"testing"

	"golang.org/x/tools/go/packages"
)

const moduleRoot = "github.com/musher-dev/adoc"

type layer int

const (
	// layerCore packages talk to Azure DevOps, disk and the OS and know
	// nothing about commands or rendering.
	layerCore layer = iota + 1
	// layerFeature packages assemble core packages into what commands run.
	layerFeature
)

// layers classifies every internal package, keyed by its path below the
// module root. A new package must be added here.
var layers = map[string]layer{
	"internal/ado":           layerCore,
	"internal/auth":          layerCore,
	"internal/buildinfo":     layerCore,
	"internal/config":        layerCore,
	"internal/errors":        layerCore,
	"internal/model":         layerCore,
	"internal/normalize":     layerCore,
	"internal/notify":        layerCore,
	"internal/observability": layerCore,
	"internal/paths":         layerCore,
	"internal/store":         layerCore,
	"internal/terminal":      layerCore,
	"internal/testutil":      layerCore,

	"internal/bookmarks": layerFeature,
	"internal/control":   layerFeature,
	"internal/doctor":    layerFeature,
	"internal/output":    layerFeature,
	"internal/poller":    layerFeature,
	"internal/prompt":    layerFeature,
	"internal/tui":       layerFeature,
}

// lateral lists the feature-to-feature imports that are allowed.
var lateral = map[string][]string{
	// control serves the engine over the loopback API.
	"internal/control": {"internal/poller"},
	// doctor asks the control API whether the daemon is running.
	"internal/doctor": {"internal/control"},
	"internal/prompt": {"internal/output"},
}

// pureImports are the imports that would give a package I/O of its own.
var pureImports = []string{"os", "os/exec", "io/fs", "net", "net/http", "syscall", "log/slog"}

// owners restricts an import (or an import prefix ending in "/") to the
// listed packages. Unlisted packages may not import it.
var owners = map[string][]string{
	"github.com/zalando/go-keyring":   {"internal/auth"},
	"github.com/fsnotify/fsnotify":    {"internal/store"},
	"github.com/gorilla/mux":          {"internal/control"},
	"nhooyr.io/websocket/":            {"internal/control"},
	"nhooyr.io/websocket":             {"internal/control"},
	"github.com/charmbracelet/":       {"internal/tui"},
	"os/exec":                         {"internal/notify"},
	"net/http":                        {"internal/ado", "internal/control", "cmd/adoc"},
	moduleRoot + "/internal/testutil": {},
}

var (
	graphOnce sync.Once
	graph     map[string]map[string]bool
	graphErr  error
)

// importGraph maps each production package of the module (by its path
// below the module root, subpackages folded into their parent) to the
// imports it uses.
func importGraph(t *testing.T) map[string]map[string]bool {
	t.Helper()

	graphOnce.Do(func() {
		var pkgs []*packages.Package

		pkgs, graphErr = packages.Load(&packages.Config{Mode: packages.NeedName | packages.NeedImports}, moduleRoot+"/...")
		if graphErr != nil {
			return
		}

		graph = map[string]map[string]bool{}

		for _, pkg := range pkgs {
			name := unit(pkg.PkgPath)
			if graph[name] == nil {
				graph[name] = map[string]bool{}
			}

			for imp := range pkg.Imports {
				graph[name][imp] = true
			}
		}
	})

	if graphErr != nil {
		t.Fatalf("loading packages: %v", graphErr)
	}

	return graph
}

// unit folds a package path to "internal/<name>" or "cmd/<name>".
func unit(pkgPath string) string {
	rel := strings.TrimPrefix(pkgPath, moduleRoot+"/")

	parts := strings.SplitN(rel, "/", 3)
	if len(parts) < 2 {
		return rel
	}

	return parts[0] + "/" + parts[1]
}

func sortedUnits(g map[string]map[string]bool) []string {
	names := make([]string, 0, len(g))
	for name := range g {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

func TestEveryInternalPackageHasALayer(t *testing.T) {
	for _, name := range sortedUnits(importGraph(t)) {
		if !strings.HasPrefix(name, "internal/") {
			continue
		}

		if layers[name] == 0 {
			t.Errorf("%s has no layer: add it to layers in architecture_test.go", name)
		}
	}
}

func TestLayerDependencies(t *testing.T) {
	g := importGraph(t)

	for _, name := range sortedUnits(g) {
		from := layers[name]
		if from == 0 {
			continue
		}

		for imp := range g[name] {
			if !strings.HasPrefix(imp, moduleRoot+"/") {
				continue
			}

			target := unit(imp)
			if target == name {
				continue
			}

			switch {
			case strings.HasPrefix(target, "cmd/"):
				t.Errorf("%s imports %s: internal packages must not import commands", name, target)
			case from == layerCore && layers[target] == layerFeature:
				t.Errorf("%s imports feature package %s: core packages sit below features", name, target)
			case from == layerFeature && layers[target] == layerFeature && !slices.Contains(lateral[name], target):
				t.Errorf("%s imports sibling feature %s: add it to lateral if the dependency is intended", name, target)
			}
		}
	}
}

// TestNormalizationIsPure keeps the raw-to-model conversion free of I/O so
// it can be tested on fixtures alone.
func TestNormalizationIsPure(t *testing.T) {
	g := importGraph(t)

	allowedInternal := map[string][]string{
		"internal/model":     nil,
		"internal/normalize": {"internal/ado", "internal/model"},
	}

	for name, internal := range allowedInternal {
		imports, ok := g[name]
		if !ok {
			t.Fatalf("%s not found", name)
		}

		for imp := range imports {
			if slices.Contains(pureImports, imp) {
				t.Errorf("%s imports %s: normalization must not do I/O", name, imp)
			}

			if strings.HasPrefix(imp, moduleRoot+"/") && !slices.Contains(internal, unit(imp)) {
				t.Errorf("%s imports %s: only %v are allowed", name, unit(imp), internal)
			}
		}
	}
}

// TestImportOwnership pins each integration to the package that wraps it.
func TestImportOwnership(t *testing.T) {
	g := importGraph(t)

	for _, name := range sortedUnits(g) {
		for imp := range g[name] {
			for owned, allowed := range owners {
				matches := imp == owned || (strings.HasSuffix(owned, "/") && strings.HasPrefix(imp, owned))
				if !matches || slices.Contains(allowed, name) {
					continue
				}

				t.Errorf("%s imports %s, which only %v may use", name, imp, allowed)
			}
		}
	}
}

func TestUnitFoldsSubpackages(t *testing.T) {
	tests := map[string]string{
		moduleRoot + "/internal/tui/render": "internal/tui",
		moduleRoot + "/internal/ado":        "internal/ado",
		moduleRoot + "/cmd/adoc":            "cmd/adoc",
	}

	for in, want := range tests {
		if got := unit(in); got != want {
			t.Errorf("unit(%q) = %q, want %q", in, got, want)
		}
	}
}
