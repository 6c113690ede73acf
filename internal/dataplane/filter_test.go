package dataplane_test

import (
	"testing"

	"golang.org/x/net/bpf"

	"github.com/dantte-lp/gobcast/internal/dataplane"
)

func ethFrame(etherType uint16) []byte {
	f := make([]byte, 60)
	for i := range 6 {
		f[i] = 0xff
	}
	f[12] = byte(etherType >> 8)
	f[13] = byte(etherType)
	return f
}

func TestIPv4Filter(t *testing.T) {
	t.Parallel()

	vm, err := bpf.NewVM(dataplane.IPv4Filter())
	if err != nil {
		t.Fatalf("bpf.NewVM: %v", err)
	}

	tests := []struct {
		name      string
		etherType uint16
		accept    bool
	}{
		{"ipv4", 0x0800, true},
		{"arp", 0x0806, false},
		{"ipv6", 0x86dd, false},
		{"lldp", 0x88cc, false},
		{"dot1q", 0x8100, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			frame := ethFrame(tt.etherType)
			n, err := vm.Run(frame)
			if err != nil {
				t.Fatalf("vm.Run: %v", err)
			}
			if got := n > 0; got != tt.accept {
				t.Errorf("accept = %v (n=%d), want %v", got, n, tt.accept)
			}
		})
	}
}
