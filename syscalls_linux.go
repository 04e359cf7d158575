package hook

import (
	"github.com/pkg/errors"
	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

// currentProtection looks up the protection of the mapping that contains
// addr. mprotect doesn't report the old value, so it comes from
// /proc/self/maps.
func currentProtection(addr uintptr) (Protection, error) {
	self, err := procfs.Self()
	if err != nil {
		return 0, errors.Wrap(err, "open /proc/self")
	}

	maps, err := self.ProcMaps()
	if err != nil {
		return 0, errors.Wrap(err, "read /proc/self/maps")
	}

	for _, m := range maps {
		if addr < m.StartAddr || addr >= m.EndAddr {
			continue
		}

		var prot Protection
		if m.Perms.Read {
			prot |= unix.PROT_READ
		}
		if m.Perms.Write {
			prot |= unix.PROT_WRITE
		}
		if m.Perms.Execute {
			prot |= unix.PROT_EXEC
		}
		return prot, nil
	}

	return 0, errors.Errorf("0x%x is not mapped", addr)
}
