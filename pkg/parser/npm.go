package parser

import (
	"bufio"
	"context"
	"encoding/json"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/matzehuels/symgraph/pkg/errors"
	"github.com/matzehuels/symgraph/pkg/graph"
)

var (
	jsExport  = regexp.MustCompile(`^\s*export\s+(?:default\s+)?(?:declare\s+)?(?:async\s+)?(function\*?|class|const|let|var|interface|type|enum)\s+([A-Za-z_$][\w$]*)`)
	cjsExport = regexp.MustCompile(`^\s*(?:module\.)?exports\.([A-Za-z_$][\w$]*)\s*=`)
	jsImport  = regexp.MustCompile(`(?:\bfrom\s+|\bimport\s*\(?\s*|\brequire\(\s*)['"]([^'"]+)['"]`)
)

var jsKinds = map[string]string{
	"function":  graph.KindFunction,
	"function*": graph.KindFunction,
	"class":     graph.KindClass,
	"interface": graph.KindType,
	"type":      graph.KindType,
	"enum":      graph.KindEnum,
	"const":     graph.KindValue,
	"let":       graph.KindValue,
	"var":       graph.KindValue,
}

var jsExtensions = []string{".js", ".mjs", ".cjs", ".ts", ".mts", ".cts", ".jsx", ".tsx"}

// NPM parses npm packages: package.json plus JavaScript and TypeScript
// sources.
type NPM struct{}

// NewNPM creates the npm parser.
func NewNPM() *NPM { return &NPM{} }

// Ecosystem returns "npm".
func (*NPM) Ecosystem() string { return "npm" }

// Wants keeps package.json and script files outside node_modules and tests.
func (*NPM) Wants(p string) bool {
	if p == "package.json" {
		return true
	}
	if strings.Contains(p, "node_modules/") || strings.HasPrefix(p, "test/") || strings.HasPrefix(p, "__tests__/") {
		return false
	}
	return jsModule(p) != ""
}

type packageFile struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Dependencies map[string]string `json:"dependencies"`
}

// Parse builds the package graph.
func (n *NPM) Parse(ctx context.Context, in Input) (*graph.Graph, error) {
	var pkg packageFile
	if manifest, ok := in.file("package.json"); ok {
		if err := json.Unmarshal([]byte(manifest), &pkg); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "parse package.json")
		}
	}

	key := in.Key
	b := newBuilder(key.Package(), key.Version)
	root := graph.SymbolID(key.Ecosystem, key.Name, "")
	b.node(graph.Node{ID: root, Name: key.Name, Kind: graph.KindPackage, Visibility: graph.VisibilityPublic})

	deps := make([]string, 0, len(pkg.Dependencies))
	for d := range pkg.Dependencies {
		deps = append(deps, d)
	}
	sort.Strings(deps)
	for _, d := range deps {
		b.edge(root, graph.SymbolID(key.Ecosystem, d, ""), graph.EdgeDepends, 1)
	}

	type importRef struct{ from, module, spec string }
	var imports []importRef
	for _, p := range in.paths() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		mod := jsModule(p)
		if mod == "" || !n.Wants(p) {
			continue
		}
		modID := graph.SymbolID(key.Ecosystem, key.Name, mod)
		b.node(graph.Node{ID: modID, Name: path.Base(mod), Kind: graph.KindModule, Visibility: graph.VisibilityPublic, File: p})
		b.edge(root, modID, graph.EdgeContains, 1)

		content, _ := in.file(p)
		sc := bufio.NewScanner(strings.NewReader(content))
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			line := sc.Text()
			if m := jsExport.FindStringSubmatch(line); m != nil {
				id := graph.SymbolID(key.Ecosystem, key.Name, mod+"#"+m[2])
				b.node(graph.Node{ID: id, Name: m[2], Kind: jsKinds[m[1]], Visibility: graph.VisibilityPublic, File: p})
				b.edge(modID, id, graph.EdgeContains, 1)
			} else if m := cjsExport.FindStringSubmatch(line); m != nil {
				id := graph.SymbolID(key.Ecosystem, key.Name, mod+"#"+m[1])
				b.node(graph.Node{ID: id, Name: m[1], Kind: graph.KindValue, Visibility: graph.VisibilityPublic, File: p})
				b.edge(modID, id, graph.EdgeContains, 1)
			}
			for _, m := range jsImport.FindAllStringSubmatch(line, -1) {
				imports = append(imports, importRef{from: modID, module: mod, spec: m[1]})
			}
		}
	}

	for _, imp := range imports {
		if target, ok := n.resolve(b, key.Ecosystem, key.Name, imp.module, imp.spec); ok {
			b.edge(imp.from, target, graph.EdgeUses, 0.9)
		}
	}
	return b.graph(), nil
}

// resolve maps an import specifier to a symbol ID. Relative specifiers must
// name a module of this package; bare specifiers name another package.
func (n *NPM) resolve(b *builder, eco, name, from, spec string) (string, bool) {
	if strings.HasPrefix(spec, ".") {
		target := path.Clean(path.Join(path.Dir(from), spec))
		for _, cand := range []string{target, target + "/index"} {
			if id := graph.SymbolID(eco, name, cand); b.has(id) {
				return id, true
			}
		}
		return "", false
	}
	spec = strings.TrimPrefix(spec, "node:")
	pkg, rest := splitSpecifier(spec)
	if pkg == "" || pkg == name {
		return "", false
	}
	return graph.SymbolID(eco, pkg, rest), true
}

// splitSpecifier splits "@scope/pkg/sub" into ("@scope/pkg", "sub").
func splitSpecifier(spec string) (pkg, rest string) {
	parts := strings.Split(spec, "/")
	n := 1
	if strings.HasPrefix(spec, "@") {
		n = 2
	}
	if len(parts) < n {
		return "", ""
	}
	return strings.Join(parts[:n], "/"), strings.Join(parts[n:], "/")
}

// jsModule strips a script extension, returning "" for other files.
func jsModule(p string) string {
	if strings.HasSuffix(p, ".d.ts") {
		return strings.TrimSuffix(p, ".d.ts")
	}
	for _, ext := range jsExtensions {
		if strings.HasSuffix(p, ext) {
			return strings.TrimSuffix(p, ext)
		}
	}
	return ""
}
