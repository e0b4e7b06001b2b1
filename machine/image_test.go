package machine

import (
	"bytes"
	"errors"
	"os"
	"runtime"
	"testing"
)

func TestHostedEntry(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("needs a linux executable")
	}
	exe, err := os.Executable()
	if err != nil {
		t.Skip(err)
	}
	f, err := os.Open(exe)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	hosted, err := HostedEntry(f)
	if err != nil || !hosted {
		t.Errorf("HostedEntry(test binary) = %v, %v", hosted, err)
	}
}

func TestHostedEntryRejectsNonELF(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"boot sector", append(make([]byte, 510), 0x55, 0xaa)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := HostedEntry(bytes.NewReader(tt.data)); !errors.Is(err, ErrNotELF64File) {
				t.Errorf("err = %v, want ErrNotELF64File", err)
			}
		})
	}
}
