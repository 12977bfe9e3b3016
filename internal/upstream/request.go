package upstream

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/l0p7/iowa/internal/cache"
)

// Request describes one logical call to the upstream service.
type Request struct {
	// Region selects the host from the region table. Empty means the global namespace
	// and requires FullURL.
	Region string
	// Method defaults to GET.
	Method string
	// Path is appended to the region host and may contain {name} placeholders.
	Path string
	// FullURL bypasses the region table; placeholders are still expanded.
	FullURL         string
	PathParameters  map[string]any
	QueryParameters map[string]any
	// Cache is nil when the result must not be cached.
	Cache *cache.Policy
}

var placeholderPattern = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

func (r Request) method() string {
	if strings.TrimSpace(r.Method) == "" {
		return http.MethodGet
	}
	return strings.ToUpper(r.Method)
}

// expandPath replaces {name} placeholders with escaped path values. Slices are
// joined with commas.
func expandPath(template string, params map[string]any) (string, error) {
	var missing []string
	expanded := placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := match[1 : len(match)-1]
		values := stringValues(params[name])
		if len(values) == 0 {
			missing = append(missing, name)
			return match
		}
		for i, v := range values {
			values[i] = url.PathEscape(v)
		}
		return strings.Join(values, ",")
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("missing path parameters %v", missing)
	}
	return expanded, nil
}

// encodeQuery drops nil values and repeats slice values.
func encodeQuery(params map[string]any) url.Values {
	query := url.Values{}
	for name, value := range params {
		for _, v := range stringValues(value) {
			query.Add(name, v)
		}
	}
	return query
}

func stringValues(value any) []string {
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		return []string{v}
	case *string:
		if v == nil {
			return nil
		}
		return []string{*v}
	case []string:
		return append([]string(nil), v...)
	case []int:
		out := make([]string, len(v))
		for i, n := range v {
			out[i] = fmt.Sprint(n)
		}
		return out
	case []int64:
		out := make([]string, len(v))
		for i, n := range v {
			out[i] = fmt.Sprint(n)
		}
		return out
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, stringValues(item)...)
		}
		return out
	default:
		return []string{fmt.Sprint(v)}
	}
}
