package metadata

// standardLibraries lists packages that ship with the toolchain and are never
// published to the registry.
var standardLibraries = map[string]map[string]bool{
	"rust": {"std": true, "core": true, "alloc": true, "proc_macro": true, "test": true},
	"npm": {
		"assert": true, "buffer": true, "child_process": true, "crypto": true,
		"events": true, "fs": true, "http": true, "https": true, "net": true,
		"os": true, "path": true, "stream": true, "url": true, "util": true, "zlib": true,
	},
}

// IsStandardLibrary reports whether name is part of the ecosystem's built-in
// standard library.
func IsStandardLibrary(ecosystem, name string) bool {
	return standardLibraries[ecosystem][name]
}
