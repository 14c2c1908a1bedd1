// Package hostsfile implements the external Hosts File Loader collaborator:
// it reads a static host table and hands the core two lowercased name -> IP
// maps, one per address family. Parsing the hosts file is explicitly out of
// the resolver core's scope; this is the one default implementation behind
// the Loader interface the core consumes.
package hostsfile

import (
	"bufio"
	"net"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Data is the structured form the loader returns: two maps, lowercased
// hostname to textual address, one per address family.
type Data struct {
	A    map[string]string
	AAAA map[string]string
}

// Loader is the external collaborator the core depends on.
type Loader interface {
	Load(reload bool) (Data, error)
}

// File loads and caches /etc/hosts-style data, reloading only when the
// file's modification time advances or the caller forces a reload.
type File struct {
	path string

	mu      sync.Mutex
	loaded  bool
	modTime time.Time
	data    Data
}

func New(path string) *File {
	return &File{path: path}
}

func (f *File) Load(reload bool) (Data, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	info, statErr := os.Stat(f.path)
	needsLoad := reload || !f.loaded
	if statErr == nil && f.loaded && info.ModTime().After(f.modTime) {
		needsLoad = true
	}
	if !needsLoad {
		return f.data, nil
	}

	data, modTime, err := parseFile(f.path)
	if err != nil {
		if !f.loaded {
			f.data = Data{A: map[string]string{}, AAAA: map[string]string{}}
			f.loaded = true
		}
		return f.data, err
	}

	injectLocalhost(data)

	f.data = data
	f.modTime = modTime
	f.loaded = true
	return f.data, nil
}

func parseFile(path string) (Data, time.Time, error) {
	fh, err := os.Open(path)
	if err != nil {
		return Data{}, time.Time{}, err
	}
	defer fh.Close()

	info, err := fh.Stat()
	if err != nil {
		return Data{}, time.Time{}, err
	}

	data := Data{A: map[string]string{}, AAAA: map[string]string{}}
	scanner := bufio.NewScanner(fh)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		ip := net.ParseIP(fields[0])
		if ip == nil {
			continue
		}
		for _, name := range fields[1:] {
			name = strings.ToLower(name)
			if ip.To4() != nil {
				data.A[name] = ip.String()
			} else {
				data.AAAA[name] = ip.String()
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return Data{}, time.Time{}, err
	}
	return data, info.ModTime(), nil
}

// injectLocalhost mirrors the resolver contract's Windows-specific fallback:
// if neither map carries "localhost" after parsing, synthesize one so the
// pipeline never has to special-case a missing entry downstream.
func injectLocalhost(data Data) {
	if runtime.GOOS != "windows" {
		return
	}
	_, hasA := data.A["localhost"]
	_, hasAAAA := data.AAAA["localhost"]
	if hasA || hasAAAA {
		return
	}
	if addrs, err := net.LookupHost("localhost"); err == nil {
		for _, a := range addrs {
			if ip := net.ParseIP(a); ip != nil && ip.To4() != nil {
				data.A["localhost"] = ip.String()
				break
			}
		}
	}
	if _, ok := data.A["localhost"]; !ok {
		data.AAAA["localhost"] = "::1"
	}
}
