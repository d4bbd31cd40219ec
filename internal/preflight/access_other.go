//go:build !unix

package preflight

import "os"

// checkAccess tests write access by creating and removing a scratch file.
func checkAccess(path string) error {
	f, err := os.CreateTemp(path, ".grfpatch-access-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
