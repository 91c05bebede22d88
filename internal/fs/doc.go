// Package fs abstracts the filesystem calls the local blob store makes, so
// tests can inject write, sync and rename failures.
//
//   - [LocalFS]: the os package
//   - [FaultyFS]: wraps another FileSystem and fails calls on matching names
//
// Production code uses fs.Default.
package fs
