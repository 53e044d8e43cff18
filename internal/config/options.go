package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/cobaltdata/schemaport/internal/catalog"
	"github.com/cobaltdata/schemaport/internal/provider"
)

// TypeOptions carries per-type scripting options from schemaport.toml:
//
//	[types.table]
//	if_not_exists = true
//
//	[types.data]
//	batch_rows = 500
type TypeOptions struct {
	Types map[string]ScriptOptions `toml:"types"`
}

// ScriptOptions is the TOML form of one type's scripting options.
type ScriptOptions struct {
	IfNotExists bool `toml:"if_not_exists"`
	DropFirst   bool `toml:"drop_first"`
	BatchRows   int  `toml:"batch_rows"`

	// NoHeader suppresses the generated comment header. Inverted so the
	// zero value keeps headers on.
	NoHeader bool `toml:"no_header"`
}

// LoadTypeOptions reads the per-type options file. A missing file is not
// an error: every type gets the stock options. Unknown type names and
// unrecognized keys are.
func LoadTypeOptions(path string) (*TypeOptions, error) {
	opts := &TypeOptions{Types: map[string]ScriptOptions{}}
	if path == "" {
		return opts, nil
	}

	md, err := toml.DecodeFile(path, opts)
	if err != nil {
		if os.IsNotExist(err) {
			return opts, nil
		}
		return nil, fmt.Errorf("failed to read type options %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unrecognized keys in %s: %v", path, undecoded)
	}
	for name := range opts.Types {
		if !catalog.Type(name).IsKnown() {
			return nil, fmt.Errorf("unknown type %q in %s", name, path)
		}
	}
	return opts, nil
}

// For resolves the effective provider options for one type.
func (o *TypeOptions) For(t catalog.Type) provider.ScriptOptions {
	out := provider.DefaultScriptOptions()
	to, ok := o.Types[string(t)]
	if !ok {
		return out
	}
	out.IfNotExists = to.IfNotExists
	out.DropFirst = to.DropFirst
	if to.BatchRows > 0 {
		out.BatchRows = to.BatchRows
	}
	out.Header = !to.NoHeader
	return out
}
