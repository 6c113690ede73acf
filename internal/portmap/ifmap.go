package portmap

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// DefaultInterfacePrefix names PTF host interfaces: port N is "eth<N>".
const DefaultInterfacePrefix = "eth"

// Interface map errors.
var (
	// ErrInvalidInterfaceMapLine indicates a line that is not "<index>@<front port>".
	ErrInvalidInterfaceMapLine = errors.New("interface map: expected <index>@<front port>")

	// ErrUnmappedPort indicates a test port absent from the interface map.
	ErrUnmappedPort = errors.New("port not in interface map")
)

// HostInterface returns the PTF host interface of port, prefix+index.
// An empty prefix means DefaultInterfacePrefix.
func HostInterface(port int, prefix string) string {
	if prefix == "" {
		prefix = DefaultInterfacePrefix
	}
	return prefix + strconv.Itoa(port)
}

// InterfaceMap maps PTF port indices to the DUT front ports they are
// cabled to.
type InterfaceMap map[int]string

// FrontPort returns the front port name of port, or "" when unmapped.
func (m InterfaceMap) FrontPort(port int) string {
	return m[port]
}

// Unmapped returns the members of ports missing from m, in order.
func (m InterfaceMap) Unmapped(ports []int) []int {
	var out []int
	for _, p := range ports {
		if _, ok := m[p]; !ok {
			out = append(out, p)
		}
	}
	return out
}

// Subset returns the entries of m for ports.
func (m InterfaceMap) Subset(ports []int) InterfaceMap {
	out := make(InterfaceMap, len(ports))
	for _, p := range ports {
		if name, ok := m[p]; ok {
			out[p] = name
		}
	}
	return out
}

// LoadInterfaceMap reads an interface map file such as
// /root/default_interface_to_front_map.ini.
func LoadInterfaceMap(path string) (InterfaceMap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open interface map: %w", err)
	}
	defer f.Close()

	m, err := ParseInterfaceMap(f)
	if err != nil {
		return nil, fmt.Errorf("load interface map %s: %w", path, err)
	}
	return m, nil
}

// ParseInterfaceMap parses lines of the form "<index>@<front port>". Blank
// lines and lines starting with '#' are skipped.
//
//	# ptf host interface @ switch front port name
//	0@Ethernet0
//	1@Ethernet4
//
// The index names the PTF port (host interface eth<index>); the right-hand
// side is the DUT front port and is only reported, never opened.
func ParseInterfaceMap(r io.Reader) (InterfaceMap, error) {
	m := make(InterfaceMap)
	sc := bufio.NewScanner(r)

	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		idx, name, ok := strings.Cut(line, "@")
		if !ok || name == "" {
			return nil, fmt.Errorf("line %d %q: %w", lineNo, line, ErrInvalidInterfaceMapLine)
		}

		port, err := strconv.Atoi(strings.TrimSpace(idx))
		if err != nil || port < 0 {
			return nil, fmt.Errorf("line %d %q: %w", lineNo, line, ErrInvalidInterfaceMapLine)
		}

		m[port] = strings.TrimSpace(name)
	}

	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read interface map: %w", err)
	}
	return m, nil
}
