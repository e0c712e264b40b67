// Package wscengine holds assets embedded into the wsc-engine binary at
// build time: the OpenAPI document served at GET /api/v1/openapi.yaml and
// rendered by the /docs/* swagger UI.
package wscengine

import _ "embed"

//go:embed openapi.yaml
var OpenAPISpec []byte
