package sng

import (
	"fmt"
	"strings"
)

// Platform identifies which build of the game an SNG payload was encrypted for.
type Platform int

const (
	PlatformNone Platform = iota
	PlatformMac
	PlatformPC
	PlatformUnknown
)

var platformNames = map[Platform]string{
	PlatformNone:    "none",
	PlatformMac:     "mac",
	PlatformPC:      "pc",
	PlatformUnknown: "unknown",
}

func (p Platform) String() string {
	if name, ok := platformNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Platform(%d)", int(p))
}

// ParsePlatform parses a target platform name. The empty string and "none"
// select PlatformNone.
func ParsePlatform(s string) (Platform, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return PlatformNone, nil
	case "pc", "win", "windows":
		return PlatformPC, nil
	case "mac", "macos", "osx":
		return PlatformMac, nil
	}
	return PlatformNone, fmt.Errorf("unknown platform %q (want pc or mac)", s)
}

// Set implements pflag.Value.
func (p *Platform) Set(s string) error {
	v, err := ParsePlatform(s)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Type implements pflag.Value.
func (p *Platform) Type() string {
	return "platform"
}

// Key returns the payload key for p. Only PC and Mac have keys.
func (p Platform) Key() ([]byte, bool) {
	switch p {
	case PlatformPC:
		return keyPC, true
	case PlatformMac:
		return keyMac, true
	}
	return nil, false
}

var keyMac = []byte{
	0x98, 0x21, 0x33, 0x0E, 0x34, 0xB9, 0x1F, 0x70,
	0xD0, 0xA4, 0x8C, 0xBD, 0x62, 0x59, 0x93, 0x12,
	0x69, 0x70, 0xCE, 0xA0, 0x91, 0x92, 0xC0, 0xE6,
	0xCD, 0xA6, 0x76, 0xCC, 0x98, 0x38, 0x28, 0x9D,
}

var keyPC = []byte{
	0xCB, 0x64, 0x8D, 0xF3, 0xD1, 0x2A, 0x16, 0xBF,
	0x71, 0x70, 0x14, 0x14, 0xE6, 0x96, 0x19, 0xEC,
	0x17, 0x1C, 0xCA, 0x5D, 0x2A, 0x14, 0x2E, 0x3E,
	0x59, 0xDE, 0x7A, 0xDD, 0xA1, 0x8A, 0x3A, 0x30,
}
