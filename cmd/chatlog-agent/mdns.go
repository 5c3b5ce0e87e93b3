package main

import (
	"fmt"
	"os"
	"time"

	"github.com/grandcat/zeroconf"
)

// mdnsServiceType names the agent's HTTP status endpoint (/status, /ready,
// /metrics) on the local link.
const mdnsServiceType = "_chatlog._tcp"

// advertisement describes one agent instance for discovery tools.
type advertisement struct {
	instance string
	port     int
	txt      []string
}

// newAdvertisement builds the instance name and TXT records. Browsers read
// path= to find the status document and chat_host= to tell agents apart by
// destination.
func newAdvertisement(cfg *appConfig, port int, session, chatHost string) advertisement {
	instance := cfg.mdnsName
	if instance == "" {
		host, _ := os.Hostname()
		instance = fmt.Sprintf("chatlog-%s", host)
	}
	return advertisement{
		instance: instance,
		port:     port,
		txt: []string{
			"path=/status",
			"source=" + cfg.source,
			"chat_host=" + chatHost,
			"session=" + session,
			"version=" + version,
		},
	}
}

// startMDNS publishes the status endpoint until the returned stop function
// runs.
func startMDNS(ad advertisement) (func(), error) {
	svc, err := zeroconf.Register(ad.instance, mdnsServiceType, "local.", ad.port, ad.txt, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register %s: %w", ad.instance, err)
	}
	return func() {
		svc.Shutdown()
		// let the goodbye packets leave before the process exits
		time.Sleep(50 * time.Millisecond)
	}, nil
}
