package rdfsource

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/geoknoesis/rdf-go/rdf"
)

// ErrUnknownFormat is returned when a format name is not recognized.
var ErrUnknownFormat = errors.New("unknown RDF format")

// FormatInfo provides metadata about an input serialization.
type FormatInfo struct {
	// Extensions are the file extensions (with dot) mapped to the format.
	Extensions []string
}

// FormatRegistry contains metadata for all supported input formats.
var FormatRegistry = map[rdf.Format]FormatInfo{
	rdf.FormatTurtle:   {Extensions: []string{".ttl", ".turtle"}},
	rdf.FormatNTriples: {Extensions: []string{".nt", ".ntriples"}},
	rdf.FormatNQuads:   {Extensions: []string{".nq", ".nquads"}},
	rdf.FormatTriG:     {Extensions: []string{".trig"}},
	rdf.FormatRDFXML:   {Extensions: []string{".rdf", ".xml", ".owl"}},
	rdf.FormatJSONLD:   {Extensions: []string{".jsonld", ".json"}},
}

// FormatFromExtension returns the format registered for the extension of path.
func FormatFromExtension(path string) (rdf.Format, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return "", false
	}
	for name, info := range FormatRegistry {
		for _, e := range info.Extensions {
			if e == ext {
				return name, true
			}
		}
	}
	return "", false
}

// ResolveFormat picks the format for path. A declared format wins over the
// extension; "auto" or an unknown extension falls back to content sniffing.
func ResolveFormat(path, declared string) (rdf.Format, error) {
	declared = strings.TrimSpace(declared)
	switch {
	case strings.EqualFold(declared, "auto"):
		return rdf.FormatAuto, nil
	case declared != "":
		f, ok := rdf.ParseFormat(declared)
		if !ok {
			return "", fmt.Errorf("%w: %q (supported: %s)", ErrUnknownFormat, declared, strings.Join(FormatNames(), ", "))
		}
		return f, nil
	}

	if f, ok := FormatFromExtension(path); ok {
		return f, nil
	}
	return rdf.FormatAuto, nil
}

// FormatNames returns the names of all supported formats, sorted.
func FormatNames() []string {
	names := make([]string, 0, len(FormatRegistry))
	for name := range FormatRegistry {
		names = append(names, string(name))
	}
	sort.Strings(names)
	return names
}
