package inventory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

const (
	// AllGroup holds every host in the inventory.
	AllGroup = "all"
	// UnknownGroup holds hosts that lack the group_by fact.
	UnknownGroup = "unknown"
	// MetaKey is the reserved top-level key carrying hostvars.
	MetaKey = "_meta"
	// SSHHostVar is the hostvar Ansible connects to.
	SSHHostVar = "ansible_ssh_host"

	indent = "    "
)

// Hostvars are the variables exposed for one host: its facts plus SSHHostVar.
type Hostvars map[string]interface{}

// Group is an Ansible inventory group.
type Group struct {
	Hosts []string `json:"hosts"`
}

type meta struct {
	Hostvars map[string]Hostvars `json:"hostvars"`
}

// Inventory is the document printed for --list.
type Inventory struct {
	Groups   map[string]*Group
	Hostvars map[string]Hostvars
}

func New() *Inventory {
	return &Inventory{
		Groups:   map[string]*Group{AllGroup: {Hosts: []string{}}},
		Hostvars: map[string]Hostvars{},
	}
}

// AddHost appends host to group, creating the group on first use.
func (inv *Inventory) AddHost(group, host string) {
	g, ok := inv.Groups[group]
	if !ok {
		g = &Group{}
		inv.Groups[group] = g
	}
	g.Hosts = append(g.Hosts, host)
}

// Normalize sorts and de-duplicates every group's host list.
func (inv *Inventory) Normalize() {
	for _, g := range inv.Groups {
		g.Hosts = sortedUnique(g.Hosts)
	}
}

// HostCount returns the number of hosts in the all group.
func (inv *Inventory) HostCount() int {
	if g, ok := inv.Groups[AllGroup]; ok {
		return len(g.Hosts)
	}
	return 0
}

// GroupNames returns the sorted group names.
func (inv *Inventory) GroupNames() []string {
	names := make([]string, 0, len(inv.Groups))
	for name := range inv.Groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (inv *Inventory) MarshalJSON() ([]byte, error) {
	doc := make(map[string]interface{}, len(inv.Groups)+1)
	for name, g := range inv.Groups {
		hosts := g.Hosts
		if hosts == nil {
			hosts = []string{}
		}
		doc[name] = Group{Hosts: hosts}
	}
	hostvars := inv.Hostvars
	if hostvars == nil {
		hostvars = map[string]Hostvars{}
	}
	doc[MetaKey] = meta{Hostvars: hostvars}
	return json.Marshal(doc)
}

// MarshalIndent renders the inventory with sorted keys and four-space indentation.
func (inv *Inventory) MarshalIndent() ([]byte, error) {
	return json.MarshalIndent(inv, "", indent)
}

// HostDocument renders the --host response: {host: hostvars}.
func HostDocument(host string, vars Hostvars) ([]byte, error) {
	if vars == nil {
		vars = Hostvars{}
	}
	return json.MarshalIndent(map[string]Hostvars{host: vars}, "", indent)
}

// Reindent parses a JSON document and re-renders it with sorted keys and
// the standard indentation. It fails on malformed input.
func Reindent(data []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("invalid inventory document: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("invalid inventory document: trailing data")
	}
	if _, ok := doc.(map[string]interface{}); !ok {
		return nil, fmt.Errorf("invalid inventory document: expected a JSON object")
	}
	return json.MarshalIndent(doc, "", indent)
}

func sortedUnique(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := append([]string(nil), in...)
	sort.Strings(out)
	n := 1
	for i := 1; i < len(out); i++ {
		if out[i] != out[n-1] {
			out[n] = out[i]
			n++
		}
	}
	return out[:n]
}
