// Package docs holds the OpenAPI description of the ingestion API.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "license": {
            "name": "Apache 2.0",
            "url": "http://www.apache.org/licenses/LICENSE-2.0.html"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/messages": {
            "post": {
                "description": "Publishes one conversation message as a message_received event",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["messages"],
                "summary": "Ingest a message",
                "parameters": [
                    {
                        "description": "Message to ingest",
                        "name": "message",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/ingestor.Message"}
                    }
                ],
                "responses": {
                    "202": {
                        "description": "Accepted",
                        "schema": {"$ref": "#/definitions/ingestor.IngestResponse"}
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {"$ref": "#/definitions/errors.Response"}
                    },
                    "503": {
                        "description": "Broker unavailable",
                        "schema": {"$ref": "#/definitions/errors.Response"}
                    }
                }
            }
        },
        "/messages/batch": {
            "post": {
                "description": "Publishes each message independently; failed messages are skipped",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["messages"],
                "summary": "Ingest a batch of messages",
                "parameters": [
                    {
                        "description": "Messages to ingest",
                        "name": "batch",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/ingestor.BatchRequest"}
                    }
                ],
                "responses": {
                    "202": {
                        "description": "Accepted",
                        "schema": {"$ref": "#/definitions/ingestor.BatchResponse"}
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {"$ref": "#/definitions/errors.Response"}
                    }
                }
            }
        }
    },
    "definitions": {
        "errors.Response": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "error_code": {"type": "string"},
                "details": {"type": "object"}
            }
        },
        "ingestor.BatchRequest": {
            "type": "object",
            "required": ["messages"],
            "properties": {
                "messages": {
                    "type": "array",
                    "items": {"$ref": "#/definitions/ingestor.Message"}
                }
            }
        },
        "ingestor.BatchResponse": {
            "type": "object",
            "properties": {
                "accepted": {"type": "integer"},
                "message_ids": {"type": "array", "items": {"type": "string"}},
                "submitted": {"type": "integer"}
            }
        },
        "ingestor.IngestResponse": {
            "type": "object",
            "properties": {
                "message_id": {"type": "string"}
            }
        },
        "ingestor.Message": {
            "type": "object",
            "required": ["author"],
            "properties": {
                "author": {"type": "string"},
                "channel": {"type": "string"},
                "content": {"type": "string"},
                "metadata": {"type": "object", "additionalProperties": true},
                "source": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/api/v1",
	Schemes:          []string{"http", "https"},
	Title:            "Taskflow Ingestor API",
	Description:      "Accepts conversation messages and publishes them to the task pipeline",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
