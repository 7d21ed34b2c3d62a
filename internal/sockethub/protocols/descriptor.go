// Package protocols validates the descriptors platform modules supply and
// keeps a registry of which verbs each enabled platform accepts.
package protocols

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
	"sigs.k8s.io/yaml"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Verb is one verb a platform accepts, with the JSON schema of its object.
type Verb struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
}

// Descriptor is a validated platform descriptor.
type Descriptor struct {
	Name  string          `json:"name"`
	Verbs map[string]Verb `json:"verbs"`
}

// Accepts reports whether the platform declares verb.
func (d *Descriptor) Accepts(verb string) bool {
	_, ok := d.Verbs[verb]
	return ok
}

// VerbNames returns the declared verbs in sorted order.
func (d *Descriptor) VerbNames() []string {
	names := make([]string, 0, len(d.Verbs))
	for name := range d.Verbs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var (
	compiled     map[string]*jsonschema.Schema
	compileOnce  sync.Once
	compileError error
)

func schemas() (map[string]*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiled = make(map[string]*jsonschema.Schema)
		for name, src := range map[string]string{
			"descriptor": descriptorSchema,
			"platforms":  platformsSchema,
		} {
			s, err := compileSchema(name, src)
			if err != nil {
				compileError = err
				return
			}
			compiled[name] = s
		}
	})
	return compiled, compileError
}

func compileSchema(name, schema string) (*jsonschema.Schema, error) {
	if !gjson.Valid(schema) {
		return nil, fmt.Errorf("invalid JSON schema %s", name)
	}
	url := "inline://" + name
	compiler := jsonschema.NewCompiler()
	compiler.LoadURL = func(u string) (io.ReadCloser, error) {
		if u == url {
			return io.NopCloser(strings.NewReader(schema)), nil
		}
		return nil, fmt.Errorf("unsupported schema ref: %s", u)
	}
	if err := compiler.AddResource(url, strings.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	return compiler.Compile(url)
}

func validateAgainst(schemaName string, raw []byte) error {
	if !gjson.ValidBytes(raw) {
		return ErrInvalidDescriptor.Msg("descriptor is not valid JSON")
	}
	all, err := schemas()
	if err != nil {
		return ErrInvalidDescriptor.Err(err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ErrInvalidDescriptor.Err(err)
	}
	if err := all[schemaName].Validate(doc); err != nil {
		return ErrInvalidDescriptor.Err(err)
	}
	return nil
}

// Validate checks raw JSON against the descriptor schema and decodes it.
func Validate(raw []byte) (*Descriptor, error) {
	if err := validateAgainst("descriptor", raw); err != nil {
		return nil, err
	}
	d := &Descriptor{}
	if err := json.Unmarshal(raw, d); err != nil {
		return nil, ErrInvalidDescriptor.Err(err)
	}
	return d, nil
}

// ValidatePlatforms checks a `{"platforms": {...}}` registry document and
// returns its descriptors keyed by platform name. Each entry must also pass
// the descriptor schema.
func ValidatePlatforms(raw []byte) (map[string]*Descriptor, error) {
	if err := validateAgainst("platforms", raw); err != nil {
		return nil, err
	}
	out := make(map[string]*Descriptor)
	var verr error
	gjson.GetBytes(raw, "platforms").ForEach(func(key, value gjson.Result) bool {
		d, err := Validate([]byte(value.Raw))
		if err != nil {
			verr = ErrInvalidDescriptor.MsgErr("platform "+key.String(), err)
			return false
		}
		out[key.String()] = d
		return true
	})
	if verr != nil {
		return nil, verr
	}
	return out, nil
}

// LoadFile reads a descriptor from a .json, .yaml or .yml file.
func LoadFile(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ErrInvalidDescriptor.Err(err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.YAMLToJSON(data)
		if err != nil {
			return nil, ErrInvalidDescriptor.Err(err)
		}
	}
	return Validate(bytes.TrimSpace(data))
}
