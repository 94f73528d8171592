package mdns

import (
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
)

func TestFromEntry(t *testing.T) {
	entry := zeroconf.NewServiceEntry("kitchen", ServiceType, ServiceDomain)
	entry.HostName = "kitchen-pi.local."
	entry.Port = 5000
	entry.Text = []string{"version=1.0.0", "flag"}

	relay, ok := FromEntry(entry)
	if !ok {
		t.Fatal("expected entry to convert")
	}
	if relay.Host != "kitchen-pi.local" || relay.URL() != "http://kitchen-pi.local:5000" {
		t.Fatalf("relay = %+v url %s", relay, relay.URL())
	}
	if relay.Text["version"] != "1.0.0" {
		t.Fatalf("text = %v", relay.Text)
	}
	if _, ok := relay.Text["flag"]; !ok {
		t.Fatalf("bare text record missing: %v", relay.Text)
	}

	entry.AddrIPv4 = []net.IP{net.ParseIP("192.168.1.20")}
	relay, _ = FromEntry(entry)
	if relay.URL() != "http://192.168.1.20:5000" {
		t.Fatalf("url = %s, want IPv4 address", relay.URL())
	}

	entry.AddrIPv4 = nil
	entry.AddrIPv6 = []net.IP{net.ParseIP("fe80::1")}
	relay, _ = FromEntry(entry)
	if relay.URL() != "http://[fe80::1]:5000" {
		t.Fatalf("url = %s, want bracketed IPv6", relay.URL())
	}
}

func TestFromEntryRejectsIncomplete(t *testing.T) {
	if _, ok := FromEntry(nil); ok {
		t.Fatal("nil entry accepted")
	}
	entry := zeroconf.NewServiceEntry("kitchen", ServiceType, ServiceDomain)
	if _, ok := FromEntry(entry); ok {
		t.Fatal("entry without port accepted")
	}
}

func TestTextRoundTrip(t *testing.T) {
	text := decodeText(encodeText(map[string]string{"version": "1.0.0", "name": "anova"}))
	if text["version"] != "1.0.0" || text["name"] != "anova" {
		t.Fatalf("text = %v", text)
	}
	if decodeText(nil) != nil {
		t.Fatal("empty records should decode to nil")
	}
}
