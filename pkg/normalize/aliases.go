package normalize

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/ledger"
)

// AliasFile is the YAML layout of a header alias file:
//
//	aliases:
//	  std_transaction_date:
//	    - Transaction Date
//	    - trx_date
type AliasFile struct {
	Aliases map[string][]string `yaml:"aliases"`
}

// Aliases maps a normalized source header to a canonical column name.
type Aliases map[string]string

// LoadAliases reads an alias file. Every target must be a canonical column.
func LoadAliases(path string) (Aliases, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read alias file: %w", err)
	}
	return ParseAliases(data)
}

// ParseAliases decodes the YAML alias layout.
func ParseAliases(data []byte) (Aliases, error) {
	var file AliasFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	targets := make([]string, 0, len(file.Aliases))
	for target := range file.Aliases {
		targets = append(targets, target)
	}
	sort.Strings(targets)

	aliases := make(Aliases)
	for _, target := range targets {
		canonical := headerKey(target)
		if _, ok := ledger.Lookup(canonical); !ok {
			return nil, fmt.Errorf("alias target %q is not a ledger column", target)
		}
		for _, source := range file.Aliases[target] {
			key := headerKey(source)
			if prev, dup := aliases[key]; dup && prev != canonical {
				return nil, fmt.Errorf("header %q is aliased to both %q and %q", source, prev, canonical)
			}
			aliases[key] = canonical
		}
	}

	return aliases, nil
}

// Resolve returns the canonical column for a raw header, or "" when the header is unknown.
func (a Aliases) Resolve(header string) string {
	key := headerKey(header)
	if _, ok := ledger.Lookup(key); ok {
		return key
	}
	if canonical, ok := a[key]; ok {
		return canonical
	}
	return ""
}

func headerKey(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}
