// Package perfmap writes the /tmp/perf-<pid>.map sidecar that lets Linux
// perf symbolize JIT-compiled regions.
package perfmap

import (
	"fmt"
	"os"
	"strconv"
	"sync"
)

// Perfmap appends address/size/name entries to the per-process perf map.
type Perfmap struct {
	mu sync.Mutex
	fh *os.File
}

// Open opens (or creates) the perf map for this process.
func Open() (*Perfmap, error) {
	filename := "/tmp/perf-" + strconv.Itoa(os.Getpid()) + ".map"
	fh, err := os.OpenFile(filename, os.O_APPEND|os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	return &Perfmap{fh: fh}, nil
}

// AddEntry records one compiled region.
func (p *Perfmap) AddEntry(addr uintptr, size uint64, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintf(p.fh, "%x %s %s\n", addr, strconv.FormatUint(size, 16), name)
	if err != nil {
		return err
	}
	return p.fh.Sync()
}

func (p *Perfmap) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fh.Close()
}
