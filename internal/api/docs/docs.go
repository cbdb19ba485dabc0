// Package docs registers the admin API's swagger spec with swaggo/swag so
// gin-swagger can serve it at /swagger/*any. Normally produced by `swag
// init` from the @-annotations in internal/api/handlers; checked in here
// since this module's build does not run code generation.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "{{.Title}}",
        "description": "{{.Description}}",
        "contact": {},
        "license": {"name": "MIT", "url": "https://opensource.org/licenses/MIT"},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/health": {"get": {"tags": ["system"], "summary": "Health check", "responses": {"200": {"description": "OK"}}}},
        "/stats": {"get": {"tags": ["system"], "summary": "Server statistics", "security": [{"ApiKeyAuth": []}], "responses": {"200": {"description": "OK"}}}},
        "/rules": {"get": {"tags": ["rules"], "summary": "Compiled rule summary", "security": [{"ApiKeyAuth": []}], "responses": {"200": {"description": "OK"}}}},
        "/rules/reload": {"post": {"tags": ["rules"], "summary": "Force a remote-rule refresh", "security": [{"ApiKeyAuth": []}], "responses": {"200": {"description": "OK"}}}}
    },
    "securityDefinitions": {
        "ApiKeyAuth": {"type": "apiKey", "name": "X-API-Key", "in": "header"}
    }
}`

// SwaggerInfo holds exported swagger spec metadata, the shape swag init
// generates.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8081",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "LoadAnts Admin API",
	Description:      "REST API for introspecting a running DoH forwarder.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
