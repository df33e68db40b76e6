// Package build runs the local command that produces the app and test
// packages.
package build
