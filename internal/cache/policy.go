package cache

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DynamicIDPlaceholder is replaced in identifiers by the single dynamic id, or by a
	// random suffix when a request is about several ids at once.
	DynamicIDPlaceholder = "{dynamic_id}"
	// GlobalNamespace holds entries for requests without a region.
	GlobalNamespace = "global"
)

// Policy describes whether and how a request's result is cached.
type Policy struct {
	Enabled     bool
	Identifier  string
	DynamicIDs  []string
	ExtraParams map[string]any
	TTL         time.Duration
}

// descriptor is a policy resolved against a namespace with secrets removed.
type descriptor struct {
	namespace   string
	template    string
	identifier  string
	dynamicIDs  []string
	extraParams map[string]any
	paramsKey   string
	ttl         time.Duration
}

func (s *Store) describe(region string, policy Policy) descriptor {
	ns := strings.TrimSpace(region)
	if ns == "" {
		ns = GlobalNamespace
	}
	d := descriptor{
		namespace:   ns,
		template:    policy.Identifier,
		identifier:  policy.Identifier,
		dynamicIDs:  slices.Clone(policy.DynamicIDs),
		extraParams: stripSecrets(policy.ExtraParams, s.secrets),
		ttl:         policy.TTL,
	}
	if len(d.dynamicIDs) == 1 && d.dynamicIDs[0] != "" {
		d.identifier = strings.ReplaceAll(policy.Identifier, DynamicIDPlaceholder, d.dynamicIDs[0])
	}
	if len(d.extraParams) > 0 {
		d.paramsKey = serializeParams(d.extraParams)
	}
	return d
}

// deterministic reports whether the descriptor maps to exactly one cache slot.
func (d descriptor) deterministic() bool {
	return len(d.extraParams) == 0 && !d.multi()
}

// multi reports whether the descriptor covers a list of ids. A lone empty id has no
// slot of its own and is treated as a list.
func (d descriptor) multi() bool {
	return len(d.dynamicIDs) > 1 || (len(d.dynamicIDs) == 1 && d.dynamicIDs[0] == "")
}

// key returns the fixed key for deterministic descriptors.
func (d descriptor) key() string {
	return d.namespace + "/" + d.identifier
}

// candidateKey mints a fresh key for parameterized or batched descriptors.
func (d descriptor) candidateKey() string {
	suffix := uuid.NewString()
	if d.multi() {
		if strings.Contains(d.template, DynamicIDPlaceholder) {
			return d.namespace + "/multi/" + strings.ReplaceAll(d.template, DynamicIDPlaceholder, suffix)
		}
		return d.namespace + "/multi/" + d.template + "-" + suffix
	}
	return d.namespace + "/" + d.identifier + "-" + suffix
}

// rowIdentifier is the identifier persisted in the table and compared during scans.
func (d descriptor) rowIdentifier() string {
	if d.multi() {
		return d.template
	}
	return d.identifier
}

// matches reports whether a table row was produced by an equivalent descriptor.
func (d descriptor) matches(row *Entry) bool {
	if row.Namespace != d.namespace || row.Identifier != d.rowIdentifier() || row.paramsKey != d.paramsKey {
		return false
	}
	if d.multi() {
		return slices.Equal(row.DynamicIDs, d.dynamicIDs)
	}
	return len(row.DynamicIDs) == 0
}

func stripSecrets(params map[string]any, secrets []string) map[string]any {
	if len(params) == 0 {
		return nil
	}
	out := maps.Clone(params)
	for _, name := range secrets {
		delete(out, name)
	}
	for name, value := range out {
		if value == nil {
			delete(out, name)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// serializeParams renders params with sorted keys so equal maps compare equal
// after a JSON round trip through the table file.
func serializeParams(params map[string]any) string {
	if len(params) == 0 {
		return ""
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Sprintf("%v", params)
	}
	return string(raw)
}
