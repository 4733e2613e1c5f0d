// Package github provides read access to public GitHub repositories.
//
// It is used as a fallback source: when a published archive carries no
// source files, the repository listed in package metadata is read directly.
// [Client.Tree] lists files at a ref via the git trees API and
// [Client.RawFile] downloads single files from raw.githubusercontent.com.
//
// Unauthenticated requests are limited to 60 per hour; set a token to raise
// the limit.
package github
