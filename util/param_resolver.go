package util

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/oliveagle/jsonpath"
)

var tokenPattern = regexp.MustCompile("{(.*?)}")

// ResolveInputParams substitutes {$.path} tokens in params against the
// instance context. Non-string values and strings without tokens pass
// through unchanged.
func ResolveInputParams(context map[string]any, params map[string]any) map[string]any {
	data := make(map[string]any)
	resolveParams(context, params, data)
	return data
}

func resolveParams(context map[string]any, params map[string]any, output map[string]any) {
	for k, v := range params {
		switch val := v.(type) {
		case map[string]any:
			out := make(map[string]any)
			output[k] = out
			resolveParams(context, val, out)
		case string:
			output[k] = resolveString(context, val)
		case []any:
			output[k] = resolveList(context, val)
		default:
			output[k] = v
		}
	}
}

func resolveList(context map[string]any, list []any) []any {
	var output []any
	for _, v := range list {
		switch val := v.(type) {
		case map[string]any:
			out := make(map[string]any)
			resolveParams(context, val, out)
			output = append(output, out)
		case string:
			output = append(output, resolveString(context, val))
		case []any:
			output = append(output, resolveList(context, val))
		default:
			output = append(output, v)
		}
	}
	return output
}

func resolveString(context map[string]any, in string) any {
	tokens := tokenPattern.FindAllString(in, -1)
	if len(tokens) == 0 {
		return in
	}
	// a lone {$.path} token keeps the looked-up value's type
	if len(tokens) == 1 && tokens[0] == in {
		path := strings.Trim(in, "{}")
		if strings.HasPrefix(path, "$") {
			value, err := jsonpath.JsonPathLookup(context, path)
			if err == nil {
				return value
			}
		}
		return in
	}
	out := in
	for _, token := range tokens {
		path := strings.Trim(token, "{}")
		if !strings.HasPrefix(path, "$") {
			continue
		}
		value, err := jsonpath.JsonPathLookup(context, path)
		if err != nil {
			continue
		}
		out = strings.ReplaceAll(out, token, fmt.Sprintf("%v", value))
	}
	return out
}
