package can

import (
	"errors"
	"testing"

	"vehicle-gateway/internal/errs"
)

func TestFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
		wire  []byte
	}{
		{
			name:  "extended data",
			frame: Frame{Format: FormatExtended, DLC: 8, ID: 0x1807E244, Data: [8]byte{1, 12, 0, 0, 0, 0, 0, 0}},
			wire:  []byte{0x88, 0x18, 0x07, 0xE2, 0x44, 1, 12, 0, 0, 0, 0, 0, 0},
		},
		{
			name:  "standard short",
			frame: Frame{DLC: 2, ID: 0x123, Data: [8]byte{0xAA, 0xBB}},
			wire:  []byte{0x02, 0x00, 0x00, 0x01, 0x23, 0xAA, 0xBB, 0, 0, 0, 0, 0, 0},
		},
		{
			name:  "remote",
			frame: Frame{Type: TypeRemote, ID: 0x7FF},
			wire:  []byte{0x40, 0x00, 0x00, 0x07, 0xFF, 0, 0, 0, 0, 0, 0, 0, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire, err := Encode(tt.frame)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if string(wire) != string(tt.wire) {
				t.Fatalf("wire = % X, want % X", wire, tt.wire)
			}
			back, err := Decode(wire)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if back != tt.frame {
				t.Fatalf("decoded = %+v, want %+v", back, tt.frame)
			}
		})
	}
}

func TestFrameRejects(t *testing.T) {
	if _, err := Encode(Frame{DLC: 9}); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("dlc 9 err = %v", err)
	}
	if _, err := Encode(Frame{ID: 0x800}); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("standard id 0x800 err = %v", err)
	}
	if _, err := Encode(Frame{Format: FormatExtended, ID: 0x20000000}); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("extended id overflow err = %v", err)
	}
	if _, err := Decode(make([]byte, 12)); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("short frame err = %v", err)
	}
	if _, err := Decode([]byte{0x0A, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 0}); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("decode dlc 10 err = %v", err)
	}
	if _, err := NewFrame(0x100, make([]byte, 9)); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("NewFrame long payload err = %v", err)
	}
}

func TestNewFrame(t *testing.T) {
	f, err := NewFrame(0x18FFFB45, []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}
	if !f.Extended() || f.DLC != 3 || string(f.Payload()) != "\x01\x02\x03" {
		t.Fatalf("frame = %+v", f)
	}
	if got := f.String(); got != "18FFFB45 [3] 01 02 03" {
		t.Fatalf("String() = %q", got)
	}
}

func TestDecodeMasksID(t *testing.T) {
	tests := []struct {
		name string
		wire []byte
		want Frame
	}{
		{
			name: "standard high bits",
			wire: []byte{0x02, 0x00, 0x00, 0x09, 0x23, 0x01, 0x02, 0, 0, 0, 0, 0, 0},
			want: Frame{DLC: 2, ID: 0x123, Data: [8]byte{0x01, 0x02}},
		},
		{
			name: "standard upper word",
			wire: []byte{0x00, 0xFF, 0xFF, 0xFF, 0xFF, 0, 0, 0, 0, 0, 0, 0, 0},
			want: Frame{ID: 0x7FF},
		},
		{
			name: "extended reserved bits",
			wire: []byte{0x81, 0xE0, 0x00, 0x01, 0x23, 0x55, 0, 0, 0, 0, 0, 0, 0},
			want: Frame{Format: FormatExtended, DLC: 1, ID: 0x123, Data: [8]byte{0x55}},
		},
		{
			name: "extended full range",
			wire: []byte{0x80, 0xFF, 0xFF, 0xFF, 0xFF, 0, 0, 0, 0, 0, 0, 0, 0},
			want: Frame{Format: FormatExtended, ID: MaxExtendedID},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.wire)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got != tt.want {
				t.Fatalf("decoded = %+v, want %+v", got, tt.want)
			}
		})
	}
}
