// Package mdns advertises relay processes on the local network and finds them.
package mdns

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// ServiceType is the mDNS service type relays advertise under
	ServiceType = "_anova-relay._tcp"

	// ServiceDomain is the mDNS domain
	ServiceDomain = "local."

	// DefaultBrowseTimeout bounds a relay lookup
	DefaultBrowseTimeout = 3 * time.Second
)

// Relay is one relay found on the network
type Relay struct {
	Instance string            `json:"instance"`
	Host     string            `json:"host"`
	Port     int               `json:"port"`
	Text     map[string]string `json:"text,omitempty"`
}

// URL returns the relay base URL
func (r Relay) URL() string {
	return "http://" + net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// Advertiser keeps a relay registered until Shutdown
type Advertiser struct {
	server *zeroconf.Server
}

// Advertise registers a relay listening on port under instance
func Advertise(instance string, port int, text map[string]string) (*Advertiser, error) {
	server, err := zeroconf.Register(instance, ServiceType, ServiceDomain, port, encodeText(text), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}
	return &Advertiser{server: server}, nil
}

// Shutdown withdraws the advertisement
func (a *Advertiser) Shutdown() {
	a.server.Shutdown()
}

// Browse collects the relays that answer within timeout
func Browse(ctx context.Context, timeout time.Duration) ([]Relay, error) {
	if timeout <= 0 {
		timeout = DefaultBrowseTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	done := make(chan []Relay, 1)
	go func() {
		var relays []Relay
		for entry := range entries {
			if relay, ok := FromEntry(entry); ok {
				relays = append(relays, relay)
			}
		}
		done <- relays
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	// the resolver closes entries once ctx is done
	<-ctx.Done()
	return <-done, nil
}

// FromEntry converts a service entry, preferring its first IPv4 address
func FromEntry(entry *zeroconf.ServiceEntry) (Relay, bool) {
	if entry == nil || entry.Port == 0 {
		return Relay{}, false
	}

	host := strings.TrimSuffix(entry.HostName, ".")
	switch {
	case len(entry.AddrIPv4) > 0:
		host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		host = entry.AddrIPv6[0].String()
	}
	if host == "" {
		return Relay{}, false
	}

	return Relay{
		Instance: entry.Instance,
		Host:     host,
		Port:     entry.Port,
		Text:     decodeText(entry.Text),
	}, true
}

func encodeText(text map[string]string) []string {
	records := make([]string, 0, len(text))
	for k, v := range text {
		records = append(records, k+"="+v)
	}
	return records
}

func decodeText(records []string) map[string]string {
	if len(records) == 0 {
		return nil
	}
	text := make(map[string]string, len(records))
	for _, record := range records {
		k, v, _ := strings.Cut(record, "=")
		text[k] = v
	}
	return text
}
