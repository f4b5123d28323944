package server

import (
	"net/http"

	"github.com/swaggo/swag"
)

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/uploads": {
            "get": {
                "produces": ["application/json"],
                "tags": ["uploads"],
                "summary": "List recent uploads",
                "parameters": [
                    {"type": "integer", "description": "Maximum number of uploads (default 20)", "name": "limit", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}}
            },
            "post": {
                "consumes": ["multipart/form-data"],
                "produces": ["application/json"],
                "tags": ["uploads"],
                "summary": "Upload a CSV or Excel extract",
                "parameters": [
                    {"type": "file", "description": "CSV or XLSX file", "name": "file", "in": "formData", "required": true},
                    {"type": "string", "description": "skip, update or add-all", "name": "policy", "in": "formData"},
                    {"type": "string", "description": "id, std_identifier or tx_id", "name": "key", "in": "formData"},
                    {"type": "integer", "description": "Return the first N rows without writing", "name": "preview", "in": "query"}
                ],
                "responses": {
                    "201": {"description": "Created"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/server.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/server.ErrorResponse"}}
                }
            }
        },
        "/uploads/{batchID}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["uploads"],
                "summary": "Get one upload by batch id",
                "parameters": [
                    {"type": "string", "description": "Upload batch id", "name": "batchID", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/server.ErrorResponse"}}
                }
            }
        },
        "/report": {
            "get": {
                "produces": ["application/json"],
                "tags": ["reports"],
                "summary": "Filtered rows, aggregates and daily balances",
                "parameters": [
                    {"type": "string", "description": "First day (YYYY-MM-DD), default 2025-01-01", "name": "from", "in": "query"},
                    {"type": "string", "description": "Last day inclusive (YYYY-MM-DD), default today", "name": "to", "in": "query"},
                    {"type": "string", "description": "Comma-separated row columns", "name": "columns", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/server.ErrorResponse"}}
                }
            }
        },
        "/export/{table}": {
            "get": {
                "produces": ["text/csv"],
                "tags": ["reports"],
                "summary": "Download a report table",
                "parameters": [
                    {"type": "string", "description": "rows, transaction-amounts, vendor-settlements, settled-client-amounts or daily-balances", "name": "table", "in": "path", "required": true},
                    {"type": "string", "description": "csv (default) or xlsx", "name": "format", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/server.ErrorResponse"}}
                }
            }
        },
        "/stats": {
            "get": {
                "produces": ["application/json"],
                "tags": ["reports"],
                "summary": "Record count and amount total of the trailing seven days",
                "responses": {"200": {"description": "OK"}}
            }
        }
    },
    "definitions": {
        "server.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "error_description": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api",
	Schemes:          []string{},
	Title:            "Reconciliation Ledger API",
	Description:      "Upload reconciliation extracts and read filtered reports, aggregates and daily balances.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

func serveDoc(w http.ResponseWriter, r *http.Request) {
	doc, err := swag.ReadDoc(SwaggerInfo.InstanceName())
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}
