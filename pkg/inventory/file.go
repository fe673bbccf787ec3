package inventory

import (
	"context"
	"fmt"
	"os"

	"github.com/kylerisse/neustart/pkg/host"
	"gopkg.in/yaml.v3"
)

// File is an Inventory backed by a YAML document that is re-read on every
// call, so edits made by the owning system are picked up by the next
// monitoring cycle without a restart.
//
//	hosts:
//	  - id: "1"
//	    hostname: siegeawf
//	    address: 10.0.0.5
//	    port: 80
//	    group: web
//	    active: true
type File struct {
	path string
}

type fileDocument struct {
	Hosts []host.Record `yaml:"hosts"`
}

// NewFile creates a File inventory for path. The file is not read until
// the first list call.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the inventory file path.
func (f *File) Path() string {
	return f.path
}

// ListActive implements Inventory.
func (f *File) ListActive(_ context.Context) ([]host.Record, error) {
	records, err := f.load()
	if err != nil {
		return nil, err
	}
	return selectActive(records), nil
}

// ListByIDs implements Inventory.
func (f *File) ListByIDs(_ context.Context, ids []string) ([]host.Record, error) {
	records, err := f.load()
	if err != nil {
		return nil, err
	}
	return selectByIDs(records, ids), nil
}

// load reads and validates the inventory file. Any failure, including a
// single invalid record or a duplicated id or hostname, makes the whole
// inventory unavailable rather than silently dropping hosts.
func (f *File) load() ([]host.Record, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, unavailable(fmt.Errorf("could not read file %s: %w", f.path, err))
	}

	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, unavailable(fmt.Errorf("could not parse YAML: %w", err))
	}

	ids := make(map[string]bool, len(doc.Hosts))
	hostnames := make(map[string]bool, len(doc.Hosts))
	for _, r := range doc.Hosts {
		if err := r.Validate(); err != nil {
			return nil, unavailable(err)
		}
		if ids[r.ID] {
			return nil, unavailable(fmt.Errorf("duplicate host id %q", r.ID))
		}
		if hostnames[r.Hostname] {
			return nil, unavailable(fmt.Errorf("duplicate hostname %q", r.Hostname))
		}
		ids[r.ID] = true
		hostnames[r.Hostname] = true
	}
	return doc.Hosts, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
