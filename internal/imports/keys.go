package imports

import (
	"strconv"
	"strings"
)

// Key identifies an Entry in the registry. Library and Variables imports are
// keyed by the resolved source (or module name) plus the resolved argument
// list; Resource imports are keyed by resolved source alone (encodedArgs is
// empty). Key must stay comparable so it can be used as a map key directly;
// argument lists are canonicalized into encodedArgs so order is significant
// and value-equal slices collapse to the same key.
type Key struct {
	Kind        Kind
	Source      string
	encodedArgs string
}

// NewLibraryKey builds the key for a Library import: resolved source or
// module name plus the resolved argument list.
func NewLibraryKey(resolvedSource string, resolvedArgs []string) Key {
	return Key{Kind: KindLibrary, Source: resolvedSource, encodedArgs: encodeArgs(resolvedArgs)}
}

// NewVariablesKey builds the key for a Variables import.
func NewVariablesKey(resolvedSource string, resolvedArgs []string) Key {
	return Key{Kind: KindVariables, Source: resolvedSource, encodedArgs: encodeArgs(resolvedArgs)}
}

// NewResourceKey builds the key for a Resource import. Resources carry no
// argument list.
func NewResourceKey(resolvedSource string) Key {
	return Key{Kind: KindResource, Source: resolvedSource}
}

// Args returns the resolved argument list this key was built from.
func (k Key) Args() []string {
	return decodeArgs(k.encodedArgs)
}

func (k Key) String() string {
	if k.encodedArgs == "" {
		return k.Kind.String() + ":" + k.Source
	}
	return k.Kind.String() + ":" + k.Source + "(" + strings.Join(k.Args(), ", ") + ")"
}

// encodeArgs canonicalizes an argument slice into a comparable string.
// Each argument is length-prefixed so that no choice of separator can make
// two distinct argument lists collide.
func encodeArgs(args []string) string {
	if len(args) == 0 {
		return ""
	}
	var b strings.Builder
	for _, a := range args {
		b.WriteString(strconv.Itoa(len(a)))
		b.WriteByte(':')
		b.WriteString(a)
	}
	return b.String()
}

func decodeArgs(encoded string) []string {
	if encoded == "" {
		return nil
	}
	var out []string
	rest := encoded
	for len(rest) > 0 {
		i := strings.IndexByte(rest, ':')
		n, err := strconv.Atoi(rest[:i])
		if err != nil {
			return out
		}
		rest = rest[i+1:]
		out = append(out, rest[:n])
		rest = rest[n:]
	}
	return out
}
