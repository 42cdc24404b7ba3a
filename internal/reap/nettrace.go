package reap

import (
	"bufio"
	"os/exec"
	"strings"
	"time"
)

// NetEvent records one remote endpoint observed while a sandboxed
// build was running.
type NetEvent struct {
	Time   time.Time `toml:"time"`
	Proto  string    `toml:"proto"`
	Remote string    `toml:"remote"`
}

// netTracer samples the connection table while a build runs and keeps
// the endpoints that were not present before the build started. The
// sampling is host wide, so concurrent traffic from other processes
// can show up too. It is a trace aid, not a firewall.
type netTracer struct {
	interval time.Duration
	baseline map[string]bool
	events   []NetEvent
	stop     chan struct{}
	done     chan struct{}
}

func newNetTracer() *netTracer {
	return &netTracer{
		interval: 500 * time.Millisecond,
		baseline: make(map[string]bool),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (t *netTracer) Start() {
	for _, ev := range sampleConnections() {
		t.baseline[ev.Proto+" "+ev.Remote] = true
	}
	go t.loop()
}

func (t *netTracer) loop() {
	defer close(t.done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	seen := make(map[string]bool)
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			for _, ev := range sampleConnections() {
				key := ev.Proto + " " + ev.Remote
				if t.baseline[key] || seen[key] {
					continue
				}
				seen[key] = true
				t.events = append(t.events, ev)
			}
		}
	}
}

// Stop joins the sampling goroutine and returns what it saw.
func (t *netTracer) Stop() []NetEvent {
	close(t.stop)
	<-t.done
	return t.events
}

// sampleConnections lists current tcp and udp peers via ss. A missing
// ss binary yields an empty sample.
func sampleConnections() []NetEvent {
	out, err := exec.Command("ss", "-Htun").Output()
	if err != nil {
		return nil
	}
	return parseConnectionSample(string(out), time.Now())
}

// parseConnectionSample reads headerless `ss -tun` output. Columns are
// netid, state, recv-q, send-q, local address, peer address.
func parseConnectionSample(out string, now time.Time) []NetEvent {
	var events []NetEvent
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 6 {
			continue
		}
		proto := fields[0]
		if proto != "tcp" && proto != "udp" {
			continue
		}
		peer := fields[5]
		if peer == "*" || strings.HasSuffix(peer, ":*") {
			continue
		}
		events = append(events, NetEvent{Time: now, Proto: proto, Remote: peer})
	}
	return events
}
