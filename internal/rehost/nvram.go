package rehost

import (
	"os"

	"github.com/pkg/errors"

	"github.com/firmadyne/femu-rehost/internal/blobscan"
	"github.com/firmadyne/femu-rehost/internal/pathalgebra"
)

// nvramRule is one (binary, needle, key, value) pre-seeding rule.
type nvramRule struct {
	binaryPath string
	needle     string
	key        string
	value      string
}

// nvramRules is the fixed table from spec.md §4.8(g).
var nvramRules = []nvramRule{
	{"/sbin/rc", "ipv6_6to4_lan_ip", "ipv6_6to4_lan_ip", "2002:7f00:0001::"},
	{"/lib/libacos_shared.so", "time_zone_x", "time_zone_x", "0"},
	{"/usr/sbin/httpd", "rip_multicast", "rip_multicast", "0"},
	{"/usr/sbin/httpd", "bs_trustedip_enable", "bs_trustedip_enable", "0"},
	{"/usr/sbin/httpd", "filter_rule_tbl", "filter_rule_tbl", ""},
	{"/sbin/acos_service", "rip_enable", "rip_enable", "0"},
}

// SeedNvram checks each fixed rule's binary for its needle substring
// and, when present, writes the rule's value (no trailing newline) to
// /firmadyne/libnvram.override/<key>.
func SeedNvram(root string) error {
	for _, rule := range nvramRules {
		if !pathalgebra.IsFileInGuest(root, rule.binaryPath) {
			continue
		}
		host, err := pathalgebra.GuestToHost(root, rule.binaryPath)
		if err != nil {
			return err
		}
		host = pathalgebra.ReadGuestLink(host, root, true)
		found, err := blobscan.ContainsString(host, rule.needle)
		if err != nil {
			return errors.Wrapf(err, "scanning %s for nvram needle", rule.binaryPath)
		}
		if !found {
			continue
		}

		overridePath := "/firmadyne/libnvram.override/" + rule.key
		overrideHost, err := pathalgebra.GuestToHost(root, overridePath)
		if err != nil {
			return err
		}
		overrideHost = pathalgebra.ReadGuestLink(overrideHost, root, true)
		if err := os.WriteFile(overrideHost, []byte(rule.value), 0644); err != nil {
			return errors.Wrapf(err, "writing nvram override %s", overridePath)
		}
	}
	return nil
}
