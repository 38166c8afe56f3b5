package model

import "fmt"

// NetworkType is the radio technology a sample was measured on.
type NetworkType string

const (
	Network4G   NetworkType = "4G"
	Network5G   NetworkType = "5G"
	NetworkLTE  NetworkType = "LTE"
	NetworkWiFi NetworkType = "WiFi"
)

// NetworkTypes lists every supported network type.
var NetworkTypes = []NetworkType{Network4G, Network5G, NetworkLTE, NetworkWiFi}

// Valid reports whether n is one of the supported network types.
func (n NetworkType) Valid() bool {
	switch n {
	case Network4G, Network5G, NetworkLTE, NetworkWiFi:
		return true
	}
	return false
}

// ParseNetworkType converts a wire value into a NetworkType.
func ParseNetworkType(s string) (NetworkType, error) {
	n := NetworkType(s)
	if !n.Valid() {
		return "", fmt.Errorf("unknown network type %q", s)
	}
	return n, nil
}
