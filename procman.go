// Package procman runs external commands and keeps a record of their
// output, timing and exit status.
package procman

// Version is the procman release version.
const Version = "v0.3.0"
