// Package docs holds the swagger spec that `swag init` would normally generate from the
// txapi handlers' doc comments. It is hand-authored here (the generator is a build-time CLI
// this tree never invokes) but registers with the real swaggo/swag spec registry exactly the
// way a generated docs.go would, so gin-swagger's handler serves it unmodified.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/tx": {
            "post": {
                "security": [{"Bearer": []}],
                "description": "Bootstraps the auxiliary tables and opens a new transaction.",
                "tags": ["Transactions"],
                "summary": "Begin a transaction",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/tx/{id}/item": {
            "post": {"security": [{"Bearer": []}], "tags": ["Transactions"], "summary": "Read an item", "responses": {"200": {"description": "OK"}}},
            "put": {"security": [{"Bearer": []}], "tags": ["Transactions"], "summary": "Write an item", "responses": {"200": {"description": "OK"}}},
            "patch": {"security": [{"Bearer": []}], "tags": ["Transactions"], "summary": "Update an item", "responses": {"200": {"description": "OK"}}},
            "delete": {"security": [{"Bearer": []}], "tags": ["Transactions"], "summary": "Delete an item", "responses": {"200": {"description": "OK"}}}
        },
        "/tx/{id}/commit": {
            "post": {"security": [{"Bearer": []}], "tags": ["Transactions"], "summary": "Commit a transaction", "responses": {"204": {"description": "No Content"}}}
        },
        "/tx/{id}/rollback": {
            "post": {"security": [{"Bearer": []}], "tags": ["Transactions"], "summary": "Roll back a transaction", "responses": {"204": {"description": "No Content"}}}
        },
        "/sweep": {
            "post": {"security": [{"Bearer": []}], "tags": ["Maintenance"], "summary": "Roll back abandoned transactions", "responses": {"200": {"description": "OK"}}}
        },
        "/gc": {
            "post": {"security": [{"Bearer": []}], "tags": ["Maintenance"], "summary": "Collect terminal transaction rows", "responses": {"200": {"description": "OK"}}}
        }
    },
    "securityDefinitions": {
        "Bearer": {
            "description": "Type \"Bearer\" followed by a space and JWT token.",
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported spec fields that get filled in at runtime (main.go overrides
// Host/BasePath for the actual deployment) and is registered below.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "dynatx admin API",
	Description:      "HTTP admin surface over the transaction coordinator.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
