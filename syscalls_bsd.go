//go:build unix && !linux

package hook

// currentProtection assumes addr is in a text segment. Darwin and the BSDs
// have no cheap way to query the protection of a single page.
func currentProtection(addr uintptr) (Protection, error) {
	return mprotectRX, nil
}
