// Package host defines the inventory record for a managed host and the
// transient reachability status the monitor keeps for it.
package host

import (
	"fmt"
	"strings"
)

// Group classifies a host by the role it plays in the fleet.
type Group string

const (
	GroupWeb      Group = "web"
	GroupDatabase Group = "database"
	GroupAPI      Group = "api"
	GroupAuth     Group = "auth"
	GroupProxy    Group = "proxy"
)

// Groups lists every valid Group in display order.
var Groups = []Group{GroupWeb, GroupDatabase, GroupAPI, GroupAuth, GroupProxy}

// Valid reports whether g is one of the known groups.
func (g Group) Valid() bool {
	for _, known := range Groups {
		if g == known {
			return true
		}
	}
	return false
}

// Record represents the configuration of a host as held by the inventory.
// The core never mutates a Record.
type Record struct {
	ID          string `json:"id" yaml:"id"`
	Hostname    string `json:"hostname" yaml:"hostname"`
	Address     string `json:"address" yaml:"address"`
	Port        int    `json:"port" yaml:"port"`
	Group       Group  `json:"group" yaml:"group"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Active      bool   `json:"active" yaml:"active"`
}

// Validate checks the fields the core relies on.
func (r Record) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("host: id must not be empty")
	}
	if strings.TrimSpace(r.Hostname) == "" {
		return fmt.Errorf("host %s: hostname must not be empty", r.ID)
	}
	if strings.TrimSpace(r.Address) == "" {
		return fmt.Errorf("host %s: address must not be empty", r.Hostname)
	}
	if r.Port < 1 || r.Port > 65535 {
		return fmt.Errorf("host %s: port must be between 1 and 65535, got %d", r.Hostname, r.Port)
	}
	if !r.Group.Valid() {
		return fmt.Errorf("host %s: unknown group %q", r.Hostname, r.Group)
	}
	return nil
}

// Target returns the address to probe, falling back to the hostname
// when no address is set.
func (r Record) Target() string {
	if r.Address != "" {
		return r.Address
	}
	return r.Hostname
}
