package rehost

import (
	"github.com/pkg/errors"

	"github.com/firmadyne/femu-rehost/internal/pathalgebra"
)

// ServiceEntry is one row of the fixed service probe table.
type ServiceEntry struct {
	GuestPath string
	Command   string
	Name      string
}

// serviceProbeTable is the fixed, ordered probe table from spec.md
// §4.8(c). The first present entry is selected as primary.
var serviceProbeTable = []ServiceEntry{
	{"/etc/init.d/uhttpd", "/etc/init.d/uhttpd start", "uhttpd"},
	{"/usr/bin/httpd", "/usr/bin/httpd", "httpd"},
	{"/usr/sbin/httpd", "/usr/sbin/httpd", "httpd"},
	{"/bin/goahead", "/bin/goahead", "goahead"},
	{"/bin/alphapd", "/bin/alphapd", "alphapd"},
	{"/bin/boa", "/bin/boa", "boa"},
	{"/usr/sbin/lighttpd", "/usr/sbin/lighttpd -f /etc/lighttpd/lighttpd.conf", "lighttpd"},
}

// DiscoverServices probes the fixed table against root, collecting
// every present entry into a map keyed by guest path, and writes the
// first present entry's command/name to /firmadyne/service and
// /firmadyne/service_name. Returns the full map and the selected
// primary entry (zero-valued if nothing was found).
func DiscoverServices(root string) (map[string]ServiceEntry, ServiceEntry, error) {
	present := make(map[string]ServiceEntry)
	var primary ServiceEntry
	havePrimary := false

	for _, svc := range serviceProbeTable {
		if !pathalgebra.ExistsInGuest(root, svc.GuestPath) {
			continue
		}
		present[svc.GuestPath] = svc
		if !havePrimary {
			primary = svc
			havePrimary = true
		}
	}

	if havePrimary {
		if err := writeGuestLines(root, "/firmadyne/service", []string{primary.Command}); err != nil {
			return nil, ServiceEntry{}, errors.Wrap(err, "writing /firmadyne/service")
		}
		if err := writeGuestLines(root, "/firmadyne/service_name", []string{primary.Name}); err != nil {
			return nil, ServiceEntry{}, errors.Wrap(err, "writing /firmadyne/service_name")
		}
	}

	return present, primary, nil
}
