package recipe

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/melih/goal-listener/internal/core/domain"
)

// DockerfileName is the file the rendered recipe is written to inside a build context.
const DockerfileName = "Dockerfile"

// The dependency manifest is copied and installed before the rest of the source so that
// source-only changes reuse the install layer.
const dockerfileTemplate = `FROM {{ .BaseImage }}
{{ if .OSPackages }}
RUN apt-get update \
    && apt-get install -y --no-install-recommends {{ join .OSPackages " " }} \
    && rm -rf /var/lib/apt/lists/*
{{ end }}
WORKDIR {{ .WorkDir }}

COPY {{ .Manifest }} .
RUN pip install --no-cache-dir -r {{ .Manifest }}

COPY . .
{{ if .SafeDirectory }}
RUN git config --global --add safe.directory {{ .WorkDir }} || true
{{ end }}
EXPOSE {{ .Port }}

CMD {{ json .Command }}
`

var dockerfile = template.Must(template.New("dockerfile").Funcs(template.FuncMap{
	"join": strings.Join,
	"json": func(v []string) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	},
}).Parse(dockerfileTemplate))

// Render produces the Dockerfile for r. The output depends only on r.
func Render(r domain.Recipe) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	if err := dockerfile.Execute(&out, r); err != nil {
		return nil, fmt.Errorf("failed to render dockerfile: %w", err)
	}
	return out.Bytes(), nil
}
