package parser

import (
	"bufio"
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/matzehuels/symgraph/pkg/errors"
	"github.com/matzehuels/symgraph/pkg/graph"
)

// rustStd are crate roots that resolve to the toolchain, not a dependency.
var rustStd = map[string]bool{"std": true, "core": true, "alloc": true, "proc_macro": true, "test": true}

var (
	rustItem  = regexp.MustCompile(`^\s*(pub(?:\s*\([^)]*\))?\s+)?(?:(?:async|const|unsafe|extern\s+"[^"]*")\s+)*(fn|struct|enum|trait|type|mod|union)\s+([A-Za-z_][A-Za-z0-9_]*)`)
	rustMacro = regexp.MustCompile(`^\s*macro_rules!\s+([A-Za-z_][A-Za-z0-9_]*)`)
	rustUse   = regexp.MustCompile(`^\s*(pub(?:\s*\([^)]*\))?\s+)?use\s+(?:::)?([A-Za-z_][A-Za-z0-9_]*(?:::[A-Za-z_][A-Za-z0-9_]*)*)`)
)

var rustKinds = map[string]string{
	"fn":     graph.KindFunction,
	"struct": graph.KindStruct,
	"union":  graph.KindStruct,
	"enum":   graph.KindEnum,
	"trait":  graph.KindTrait,
	"type":   graph.KindType,
	"mod":    graph.KindModule,
}

// Rust parses crates: Cargo.toml plus every .rs file under src/.
type Rust struct{}

// NewRust creates the Rust parser.
func NewRust() *Rust { return &Rust{} }

// Ecosystem returns "rust".
func (*Rust) Ecosystem() string { return "rust" }

// Wants keeps the manifest and Rust sources.
func (*Rust) Wants(path string) bool {
	return path == "Cargo.toml" || (strings.HasPrefix(path, "src/") && strings.HasSuffix(path, ".rs"))
}

type cargoFile struct {
	Package struct {
		Name    string `toml:"name"`
		Version string `toml:"version"`
	} `toml:"package"`
	Dependencies      map[string]any `toml:"dependencies"`
	BuildDependencies map[string]any `toml:"build-dependencies"`
}

// cargoDeps maps the identifier used in Rust code to the published crate
// name. A table value with a "package" field renames the dependency.
func cargoDeps(c cargoFile) map[string]string {
	out := make(map[string]string)
	for _, deps := range []map[string]any{c.Dependencies, c.BuildDependencies} {
		for alias, v := range deps {
			name := alias
			if t, ok := v.(map[string]any); ok {
				if p, ok := t["package"].(string); ok && p != "" {
					name = p
				}
			}
			out[strings.ReplaceAll(alias, "-", "_")] = name
		}
	}
	return out
}

// Parse builds the crate graph.
func (r *Rust) Parse(ctx context.Context, in Input) (*graph.Graph, error) {
	var cargo cargoFile
	if manifest, ok := in.file("Cargo.toml"); ok {
		if err := toml.Unmarshal([]byte(manifest), &cargo); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "parse Cargo.toml")
		}
	}
	deps := cargoDeps(cargo)

	key := in.Key
	b := newBuilder(key.Package(), key.Version)
	root := graph.SymbolID(key.Ecosystem, key.Name, "")
	b.node(graph.Node{ID: root, Name: key.Name, Kind: graph.KindCrate, Visibility: graph.VisibilityPublic})

	names := make([]string, 0, len(deps))
	for _, name := range deps {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b.edge(root, graph.SymbolID(key.Ecosystem, name, ""), graph.EdgeDepends, 1)
	}

	var uses []pendingUse
	for _, path := range in.paths() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		mod, ok := rustModulePath(path)
		if !ok {
			continue
		}
		content, _ := in.file(path)
		uses = append(uses, r.scanFile(b, key.Ecosystem, key.Name, path, mod, content)...)
	}

	for _, u := range uses {
		target, ok := resolveRustUse(b, key.Ecosystem, key.Name, u, deps)
		if !ok {
			continue
		}
		b.edge(u.from, target, u.kind, u.confidence)
	}
	return b.graph(), nil
}

type pendingUse struct {
	from       string
	module     string
	path       string
	kind       string
	confidence float64
}

// scanFile records the module and items declared in one file and returns
// its use declarations for resolution once every module is known.
func (r *Rust) scanFile(b *builder, eco, name, file, mod, content string) []pendingUse {
	modID := graph.SymbolID(eco, name, mod)
	r.ensureModule(b, eco, name, mod, file)

	var uses []pendingUse
	macroExport := false
	sc := bufio.NewScanner(strings.NewReader(content))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "//") || trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "#[macro_export]") {
			macroExport = true
			continue
		}
		if m := rustMacro.FindStringSubmatch(line); m != nil {
			vis := graph.VisibilityPrivate
			if macroExport {
				vis = graph.VisibilityPublic
			}
			// Exported macros live at the crate root regardless of file.
			id := graph.SymbolID(eco, name, joinRust("", m[1]))
			if !macroExport {
				id = graph.SymbolID(eco, name, joinRust(mod, m[1]))
			}
			b.node(graph.Node{ID: id, Name: m[1], Kind: graph.KindMacro, Visibility: vis, File: file})
			b.edge(modID, id, graph.EdgeContains, 1)
			macroExport = false
			continue
		}
		if !strings.HasPrefix(trimmed, "#") {
			macroExport = false
		}
		if m := rustUse.FindStringSubmatch(line); m != nil {
			kind := graph.EdgeUses
			if m[1] != "" {
				kind = graph.EdgeReexports
			}
			uses = append(uses, pendingUse{from: modID, module: mod, path: m[2], kind: kind, confidence: 0.9})
			continue
		}
		m := rustItem.FindStringSubmatch(line)
		if m == nil || !isTopLevel(line) {
			continue
		}
		vis := rustVisibility(m[1])
		if m[2] == "mod" {
			child := joinRust(mod, m[3])
			r.ensureModule(b, eco, name, child, file)
			b.upgrade(graph.SymbolID(eco, name, child), vis)
			continue
		}
		id := graph.SymbolID(eco, name, joinRust(mod, m[3]))
		b.node(graph.Node{ID: id, Name: m[3], Kind: rustKinds[m[2]], Visibility: vis, File: file})
		b.edge(modID, id, graph.EdgeContains, 1)
	}
	return uses
}

// ensureModule adds mod and every missing ancestor, linked by contains edges.
func (r *Rust) ensureModule(b *builder, eco, name, mod, file string) {
	if mod == "" {
		return
	}
	id := graph.SymbolID(eco, name, mod)
	if !b.has(id) {
		last := mod
		if i := strings.LastIndex(mod, "::"); i >= 0 {
			last = mod[i+2:]
		}
		b.node(graph.Node{ID: id, Name: last, Kind: graph.KindModule, Visibility: graph.VisibilityPrivate, File: file})
	}
	parent := ""
	if i := strings.LastIndex(mod, "::"); i >= 0 {
		parent = mod[:i]
	}
	r.ensureModule(b, eco, name, parent, file)
	b.edge(graph.SymbolID(eco, name, parent), id, graph.EdgeContains, 1)
}

// upgrade widens the visibility of an existing node.
func (b *builder) upgrade(id, vis string) {
	if i, ok := b.nodes[id]; ok && rank(vis) > rank(b.g.Nodes[i].Visibility) {
		b.g.Nodes[i].Visibility = vis
	}
}

func rank(vis string) int {
	switch vis {
	case graph.VisibilityPublic:
		return 2
	case graph.VisibilityCrate:
		return 1
	}
	return 0
}

func resolveRustUse(b *builder, eco, name string, u pendingUse, deps map[string]string) (string, bool) {
	head, rest, _ := strings.Cut(u.path, "::")
	switch head {
	case "crate":
		return local(b, eco, name, rest)
	case "self":
		return local(b, eco, name, joinRust(u.module, rest))
	case "super":
		parent := ""
		if i := strings.LastIndex(u.module, "::"); i >= 0 {
			parent = u.module[:i]
		}
		return local(b, eco, name, joinRust(parent, rest))
	}
	if rustStd[head] {
		return graph.SymbolID(eco, head, rest), true
	}
	if dep, ok := deps[head]; ok {
		return graph.SymbolID(eco, dep, rest), true
	}
	// Relative path into a sibling module of the crate root.
	return local(b, eco, name, joinRust(u.module, u.path))
}

// local returns the deepest known node along path inside the crate.
func local(b *builder, eco, name, path string) (string, bool) {
	for path != "" {
		if id := graph.SymbolID(eco, name, path); b.has(id) {
			return id, true
		}
		i := strings.LastIndex(path, "::")
		if i < 0 {
			break
		}
		path = path[:i]
	}
	return "", false
}

// rustModulePath maps a source file to its module path. Crate roots map to
// the empty path.
func rustModulePath(file string) (string, bool) {
	if !strings.HasPrefix(file, "src/") || !strings.HasSuffix(file, ".rs") {
		return "", false
	}
	rel := strings.TrimSuffix(strings.TrimPrefix(file, "src/"), ".rs")
	switch rel {
	case "lib", "main":
		return "", true
	}
	rel = strings.TrimSuffix(rel, "/mod")
	if strings.HasPrefix(rel, "bin/") {
		return "", false
	}
	return strings.ReplaceAll(rel, "/", "::"), true
}

func rustVisibility(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	switch {
	case prefix == "pub":
		return graph.VisibilityPublic
	case strings.HasPrefix(prefix, "pub"):
		return graph.VisibilityCrate
	}
	return graph.VisibilityPrivate
}

func joinRust(mod, name string) string {
	if mod == "" {
		return name
	}
	if name == "" {
		return mod
	}
	return mod + "::" + name
}

// isTopLevel reports whether a declaration starts in the first indentation
// level. Items nested in impl blocks or functions are skipped.
func isTopLevel(line string) bool {
	indent := len(line) - len(strings.TrimLeft(line, " \t"))
	return indent == 0
}
