// Package toolargs repairs near-JSON tool-call argument strings emitted
// by LLMs into canonical JSON objects (spec C2). Normalize is a pure,
// deterministic function: it never consults external state and is
// tested as a pure function rather than round-tripped, per spec Design
// Notes ("never try to round-trip its output").
//
// Grounded in style, not in code, on the teacher's small single-purpose
// utility packages (e.g. internal/cron's pure parse/normalize
// functions); the teacher has no JSON-repair pipeline of its own since
// its SDK dependencies (anthropic-sdk-go, go-openai) already deliver
// parseable JSON, so this package is new code built for the gap spec.md
// calls out explicitly.
package toolargs

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// ParamSchema describes a tool's declared parameters in schema order,
// used by step 9 (array-to-object by parameter order).
type ParamSchema struct {
	// OrderedNames lists parameter names in the order the schema
	// declares them.
	OrderedNames []string
}

// Normalize repairs raw into a canonical JSON object (or array) string,
// applying the pipeline in spec.md §4.2 order and stopping as soon as a
// step produces a strictly valid JSON object or array with nothing
// trailing. Inputs the pipeline cannot repair are returned unchanged.
func Normalize(raw string, schema ParamSchema) string {
	if parsesCleanly(raw) {
		return raw
	}

	s := raw
	s = stripNullWrap(s)
	if parsesCleanly(s) {
		return s
	}

	s = unescapeDoubleEncoded(s)
	if parsesCleanly(s) {
		return s
	}

	s = escapeStrayQuotesInValues(s)
	s = wrapBareObjectBody(s)
	s = quoteUnquotedKeys(s)
	s = balanceBrackets(s)
	s = removeIllegalBackslashEscapes(s)
	if parsesCleanly(s) {
		return s
	}

	if arr, ok := commaListToArray(s); ok {
		s = arr
	}
	if isJSONArray(s) && len(schema.OrderedNames) > 0 {
		if obj, ok := arrayToObjectByOrder(s, schema.OrderedNames); ok {
			return obj
		}
	}

	if parsesCleanly(s) {
		return s
	}
	return raw
}

// parsesCleanly reports whether s parses as a JSON object or array with
// no trailing non-whitespace tokens remaining (step 1's validity check).
// A valid JSON primitive, such as a quoted string, does not qualify, so
// a double-encoded object still reaches step 3 (invariant 7).
func parsesCleanly(s string) bool {
	dec := json.NewDecoder(strings.NewReader(s))
	var v any
	if err := dec.Decode(&v); err != nil {
		return false
	}
	switch v.(type) {
	case map[string]any, []any:
	default:
		return false
	}
	var trailing any
	return errors.Is(dec.Decode(&trailing), io.EOF) // only EOF means no trailing tokens
}

func isJSONArray(s string) bool {
	trimmed := strings.TrimSpace(s)
	return strings.HasPrefix(trimmed, "[")
}

// stripNullWrap repeatedly removes a leading/trailing literal "null"
// when what remains is a valid JSON object, array, or quoted string
// (step 2).
func stripNullWrap(s string) string {
	for {
		trimmed := strings.TrimSpace(s)
		changed := false
		if strings.HasPrefix(trimmed, "null") {
			rest := strings.TrimSpace(trimmed[len("null"):])
			if looksLikeObjectArrayOrString(rest) {
				trimmed = rest
				changed = true
			}
		}
		if strings.HasSuffix(trimmed, "null") {
			rest := strings.TrimSpace(trimmed[:len(trimmed)-len("null")])
			if looksLikeObjectArrayOrString(rest) {
				trimmed = rest
				changed = true
			}
		}
		s = trimmed
		if !changed {
			return s
		}
	}
}

func looksLikeObjectArrayOrString(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	switch s[0] {
	case '{', '[', '"':
		return true
	default:
		return false
	}
}

// unescapeDoubleEncoded unescapes one level when the whole string is a
// quoted JSON object/array literal, e.g. "\"{\\\"x\\\":1}\"" (step 3).
// It deliberately does not recurse: double-escaped content nested
// inside string field values is left untouched (spec §4.2 and
// invariant-adjacent Design Note on non-recursive unescaping).
func unescapeDoubleEncoded(s string) string {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) < 2 || trimmed[0] != '"' || trimmed[len(trimmed)-1] != '"' {
		return s
	}
	var inner string
	if err := json.Unmarshal([]byte(trimmed), &inner); err != nil {
		return s
	}
	innerTrimmed := strings.TrimSpace(inner)
	if strings.HasPrefix(innerTrimmed, "{") || strings.HasPrefix(innerTrimmed, "[") {
		return inner
	}
	return s
}

// escapeStrayQuotesInValues walks the string tracking whether we are
// inside a JSON string value, escaping literal control characters and
// unescaped quotes that appear where a value is expected (step 4). This
// is a best-effort repair pass, not a full parser.
func escapeStrayQuotesInValues(s string) string {
	var out strings.Builder
	inString := false
	escaped := false
	afterColon := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if !inString {
			switch c {
			case ':':
				afterColon = true
			case '{', '[', ',':
				afterColon = false
			case '"':
				inString = true
			}
			out.WriteByte(c)
			continue
		}

		// Inside a string value.
		if escaped {
			out.WriteByte(c)
			escaped = false
			continue
		}
		switch c {
		case '\\':
			out.WriteByte(c)
			escaped = true
		case '"':
			// Look ahead: a quote followed by a structural terminator
			// closes the string; otherwise it's a stray quote to escape.
			if isStructuralTerminatorNext(s, i+1) {
				inString = false
				afterColon = false
				out.WriteByte(c)
			} else {
				out.WriteString(`\"`)
			}
		case '\n':
			out.WriteString(`\n`)
		case '\r':
			out.WriteString(`\r`)
		case '\t':
			out.WriteString(`\t`)
		default:
			out.WriteByte(c)
		}
	}
	_ = afterColon
	return out.String()
}

func isStructuralTerminatorNext(s string, from int) bool {
	for from < len(s) && (s[from] == ' ' || s[from] == '\t' || s[from] == '\n' || s[from] == '\r') {
		from++
	}
	if from >= len(s) {
		return true
	}
	switch s[from] {
	case ',', '}', ']', ':':
		return true
	default:
		return false
	}
}

// wrapBareObjectBody wraps a brace-less `key: value, key: value` body
// (spec scenario S4, e.g. `path: "/x", lines: 10`) in an object literal
// so quoteUnquotedKeys has a `{`/`,` to anchor its leading key on.
// Inputs already starting with `{`, `[`, or `"`, or with no top-level
// colon, are left untouched.
func wrapBareObjectBody(s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return s
	}
	switch trimmed[0] {
	case '{', '[', '"':
		return s
	}
	if !hasTopLevelColon(trimmed) {
		return s
	}
	return "{" + trimmed + "}"
}

func hasTopLevelColon(s string) bool {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
		case ':':
			if depth == 0 {
				return true
			}
		}
	}
	return false
}

// quoteUnquotedKeys adds missing quotes around unquoted object keys,
// e.g. {key: x} -> {"key": x} (step 5).
func quoteUnquotedKeys(s string) string {
	var out strings.Builder
	inString := false
	escaped := false
	n := len(s)

	for i := 0; i < n; i++ {
		c := s[i]
		if inString {
			out.WriteByte(c)
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			out.WriteByte(c)
			continue
		}
		if c == '{' || c == ',' {
			out.WriteByte(c)
			j := i + 1
			for j < n && (s[j] == ' ' || s[j] == '\t' || s[j] == '\n' || s[j] == '\r') {
				j++
			}
			if j < n && isIdentStart(s[j]) {
				k := j
				for k < n && isIdentPart(s[k]) {
					k++
				}
				m := k
				for m < n && (s[m] == ' ' || s[m] == '\t' || s[m] == '\n' || s[m] == '\r') {
					m++
				}
				if m < n && s[m] == ':' {
					out.WriteString(s[i+1 : j])
					out.WriteByte('"')
					out.WriteString(s[j:k])
					out.WriteByte('"')
					i = k - 1
					continue
				}
			}
			continue
		}
		out.WriteByte(c)
	}
	return out.String()
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// balanceBrackets appends missing closing brackets and trims leading
// extras (step 6).
func balanceBrackets(s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return s
	}

	// Trim extra leading closers that have no matching opener.
	for len(trimmed) > 0 && (trimmed[0] == '}' || trimmed[0] == ']') {
		trimmed = strings.TrimSpace(trimmed[1:])
	}
	if trimmed == "" {
		return s
	}

	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(trimmed); i++ {
		c := trimmed[i]
		if inString {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}
	for i := len(stack) - 1; i >= 0; i-- {
		trimmed += string(stack[i])
	}
	return trimmed
}

// removeIllegalBackslashEscapes drops backslashes that don't begin a
// legal JSON escape sequence (step 7).
func removeIllegalBackslashEscapes(s string) string {
	const legal = `"\/bfnrtu`
	var out strings.Builder
	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !inString {
			if c == '"' {
				inString = true
			}
			out.WriteByte(c)
			continue
		}
		if c == '\\' && i+1 < len(s) {
			next := s[i+1]
			if strings.IndexByte(legal, next) < 0 {
				continue // drop the stray backslash, keep the following char
			}
			// Copy a legal escape pair whole, so an escaped quote never
			// closes the string.
			out.WriteByte(c)
			out.WriteByte(next)
			i++
			continue
		}
		if c == '"' {
			// This quote is unescaped (legal escape pairs were copied
			// whole above), so it closes the string.
			inString = false
		}
		out.WriteByte(c)
	}
	return out.String()
}

// commaListToArray wraps a bare comma-separated positional argument
// list in brackets when there is no enclosing object or array (step 8).
func commaListToArray(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return s, false
	}
	if !hasTopLevelComma(trimmed) {
		return s, false
	}
	return "[" + trimmed + "]", true
}

func hasTopLevelComma(s string) bool {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
		case ',':
			if depth == 0 {
				return true
			}
		}
	}
	return false
}

// arrayToObjectByOrder maps a JSON array's elements onto the schema's
// parameter names in declared order (step 9).
func arrayToObjectByOrder(s string, orderedNames []string) (string, bool) {
	var arr []json.RawMessage
	if err := json.Unmarshal([]byte(s), &arr); err != nil {
		return "", false
	}
	obj := make(map[string]json.RawMessage, len(arr))
	for i, v := range arr {
		if i >= len(orderedNames) {
			break
		}
		obj[orderedNames[i]] = v
	}
	out, err := json.Marshal(obj)
	if err != nil {
		return "", false
	}
	return string(out), true
}
