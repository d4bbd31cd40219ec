// Package thor applies patch packages to a game directory.
//
// A package is either a zip container or a legacy ASSF THOR container. Each
// entry is routed to the filesystem or, when its first path segment is the
// archive prefix and the target archive exists, into the archive through a
// single grf quick merge per package. Filesystem entries are written first and
// are not rolled back when a later entry or the merge fails.
package thor
