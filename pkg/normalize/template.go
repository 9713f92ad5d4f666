package normalize

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// RenderURI renders a source URI template with sprig functions. The
// template sees .ID, .Dataset, .Version and .Params, e.g.
// "https://api.example.org/data/{{ .Dataset | upper }}/{{ .Params.key }}".
func RenderURI(src *Source) (string, error) {
	if !strings.Contains(src.URI, "{{") {
		return src.URI, nil
	}

	tmpl, err := template.New(src.ID).Funcs(sprig.TxtFuncMap()).Option("missingkey=error").Parse(src.URI)
	if err != nil {
		return "", fmt.Errorf("%w: uri template: %v", ErrInvalidSource, err)
	}

	params := src.Params
	if params == nil {
		params = map[string]string{}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, map[string]any{
		"ID":      src.ID,
		"Dataset": src.Dataset,
		"Version": src.Version,
		"Params":  params,
	}); err != nil {
		return "", fmt.Errorf("%w: uri template: %v", ErrInvalidSource, err)
	}

	return buf.String(), nil
}
