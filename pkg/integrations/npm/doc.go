// Package npm provides an HTTP client for the npm registry API.
//
// # Usage
//
//	client := npm.NewClient(backend, cache.TTLHTTP)
//	pkg, err := client.FetchVersion(ctx, "express", "4.18.2", false)
//	if err != nil {
//	    return err
//	}
//	fmt.Println(pkg.Tarball, pkg.DependencyNames())
//
// # Version Selection
//
// An empty version selects the "latest" dist-tag. Only the "dependencies"
// field is reported; devDependencies, peerDependencies, and
// optionalDependencies are not included.
package npm
