// Package discovery advertises and finds relays on the local network over mDNS.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

// ServiceType is the DNS-SD service relays register under.
const ServiceType = "_drawr._tcp"

const defaultBrowseTimeout = 3 * time.Second

var (
	errMissingInstance = errors.New("discovery: instance name is required")
	errInvalidPort     = errors.New("discovery: port must be between 1 and 65535")
)

// Relay is a relay found on the network.
type Relay struct {
	Instance string
	Host     string
	IP       net.IP
	Port     int
	Info     []string
}

// BaseURL is the relay's HTTP root.
func (r Relay) BaseURL() string {
	return "http://" + net.JoinHostPort(r.IP.String(), strconv.Itoa(r.Port))
}

// WebsocketURL is the relay's websocket endpoint.
func (r Relay) WebsocketURL() string {
	return "ws://" + net.JoinHostPort(r.IP.String(), strconv.Itoa(r.Port)) + "/ws"
}

// Advertisement is a running mDNS responder. Shutdown withdraws it.
type Advertisement struct {
	server *mdns.Server
}

// Advertise announces a relay listening on port under the given instance name.
func Advertise(instance string, port int, info ...string) (*Advertisement, error) {
	instance = strings.TrimSpace(instance)
	if instance == "" {
		return nil, errMissingInstance
	}
	if port <= 0 || port > 65535 {
		return nil, errInvalidPort
	}
	if len(info) == 0 {
		info = []string{"drawr relay"}
	}

	service, err := mdns.NewMDNSService(instance, ServiceType, "", "", port, nil, info)
	if err != nil {
		return nil, fmt.Errorf("discovery: build service: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("discovery: start responder: %w", err)
	}
	return &Advertisement{server: server}, nil
}

// Shutdown stops answering queries.
func (a *Advertisement) Shutdown() error {
	if a == nil || a.server == nil {
		return nil
	}
	return a.server.Shutdown()
}

// Browse queries the network once and reports each relay it hears from. The
// query lasts until the context deadline, or a few seconds without one.
func Browse(ctx context.Context, found func(Relay)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timeout := defaultBrowseTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	entries := make(chan *mdns.ServiceEntry, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for entry := range entries {
			relay, ok := relayFromEntry(entry)
			if !ok {
				continue
			}
			found(relay)
		}
	}()

	params := mdns.DefaultParams(ServiceType)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true
	err := mdns.Query(params)
	close(entries)
	<-done
	if err != nil {
		return fmt.Errorf("discovery: query: %w", err)
	}
	return nil
}

func relayFromEntry(entry *mdns.ServiceEntry) (Relay, bool) {
	if entry == nil || entry.AddrV4 == nil || entry.Port == 0 {
		return Relay{}, false
	}
	if !strings.Contains(entry.Name, ServiceType) {
		return Relay{}, false
	}
	instance := entry.Name
	if index := strings.Index(instance, "."+ServiceType); index > 0 {
		instance = instance[:index]
	}
	return Relay{
		Instance: instance,
		Host:     strings.TrimSuffix(entry.Host, "."),
		IP:       entry.AddrV4,
		Port:     entry.Port,
		Info:     entry.InfoFields,
	}, true
}
