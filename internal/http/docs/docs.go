// Package docs registers the OpenAPI description served by the Swagger UI.
// Regenerate with `swag init -g internal/http/router.go -o internal/http/docs`
// after changing handler annotations.
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
        "/conversations": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Conversations"],
                "summary": "List conversations (paginated)",
                "operationId": "listConversations",
                "parameters": [
                    {"type": "string", "description": "Caller identity", "name": "X-User-ID", "in": "header", "required": true},
                    {"type": "string", "description": "Return 304 if ETag matches", "name": "If-None-Match", "in": "header"},
                    {"minimum": 1, "type": "integer", "default": 1, "description": "Page number", "name": "page", "in": "query"},
                    {"maximum": 100, "minimum": 1, "type": "integer", "default": 20, "description": "Items per page", "name": "page_size", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ListConversationsResponse"}},
                    "304": {"description": "Not Modified"},
                    "401": {"description": "Missing identity", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Conversations"],
                "summary": "Create a conversation",
                "operationId": "createConversation",
                "parameters": [
                    {"type": "string", "description": "Caller identity", "name": "X-User-ID", "in": "header", "required": true},
                    {"description": "Create payload", "name": "body", "in": "body", "schema": {"$ref": "#/definitions/handlers.CreateConversationRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/domain.Conversation"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/conversations/{id}": {
            "delete": {
                "tags": ["Conversations"],
                "summary": "Delete a conversation",
                "operationId": "deleteConversation",
                "parameters": [
                    {"type": "string", "description": "Caller identity", "name": "X-User-ID", "in": "header", "required": true},
                    {"type": "string", "format": "uuid", "description": "Conversation ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "403": {"description": "Owned by another user", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Conversation not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/conversations/{id}/messages": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Conversations"],
                "summary": "List messages (paginated)",
                "operationId": "listMessages",
                "parameters": [
                    {"type": "string", "description": "Caller identity", "name": "X-User-ID", "in": "header", "required": true},
                    {"type": "string", "format": "uuid", "description": "Conversation ID", "name": "id", "in": "path", "required": true},
                    {"minimum": 1, "type": "integer", "default": 1, "description": "Page number", "name": "page", "in": "query"},
                    {"maximum": 100, "minimum": 1, "type": "integer", "default": 20, "description": "Items per page", "name": "page_size", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ListMessagesResponse"}},
                    "304": {"description": "Not Modified"},
                    "403": {"description": "Owned by another user", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Conversation not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/messages": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Messages"],
                "summary": "Send a message",
                "operationId": "sendMessage",
                "parameters": [
                    {"type": "string", "description": "Caller identity", "name": "X-User-ID", "in": "header", "required": true},
                    {"type": "string", "description": "Idempotency key for safe retries", "name": "Idempotency-Key", "in": "header"},
                    {"description": "Message payload", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.SendMessageRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/handlers.SendMessageResponse"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "429": {"description": "Daily quota exceeded", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/messages/{id}": {
            "put": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Messages"],
                "summary": "Edit a user message",
                "operationId": "editMessage",
                "parameters": [
                    {"type": "string", "description": "Caller identity", "name": "X-User-ID", "in": "header", "required": true},
                    {"type": "string", "format": "uuid", "description": "Message ID", "name": "id", "in": "path", "required": true},
                    {"description": "New content", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.EditMessageRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.EditMessageResponse"}},
                    "404": {"description": "Message not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/jobs": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Jobs"],
                "summary": "Enqueue a background generation",
                "operationId": "createJob",
                "parameters": [
                    {"type": "string", "description": "Caller identity", "name": "X-User-ID", "in": "header", "required": true},
                    {"description": "Job payload", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.CreateJobRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/handlers.CreateJobResponse"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/jobs/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Jobs"],
                "summary": "Get a job",
                "operationId": "getJob",
                "parameters": [
                    {"type": "string", "description": "Caller identity", "name": "X-User-ID", "in": "header", "required": true},
                    {"type": "string", "format": "uuid", "description": "Job ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.Job"}},
                    "404": {"description": "Job not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/usage": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Usage"],
                "summary": "Daily generation usage",
                "operationId": "getUsage",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ratelimit.UsageStats"}}
                }
            }
        }
    },
    "definitions": {
        "domain.Conversation": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "user_id": {"type": "string"},
                "assessment_id": {"type": "string"},
                "title": {"type": "string"},
                "preview": {"type": "string"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "domain.Message": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "conversation_id": {"type": "string"},
                "seq": {"type": "integer"},
                "role": {"type": "string"},
                "content": {"type": "string"},
                "parent_message_id": {"type": "string"},
                "metadata": {"type": "object"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "domain.Job": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "queue": {"type": "string"},
                "status": {"type": "string"},
                "conversation_id": {"type": "string"},
                "attempts_made": {"type": "integer"},
                "max_attempts": {"type": "integer"},
                "last_error": {"type": "string"},
                "result": {"type": "object"}
            }
        },
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "request_id": {"type": "string"},
                "code": {"type": "string"},
                "message": {"type": "string"}
            }
        },
        "handlers.Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total": {"type": "integer"},
                "total_pages": {"type": "integer"},
                "has_next": {"type": "boolean"}
            }
        },
        "handlers.CreateConversationRequest": {
            "type": "object",
            "properties": {"assessment_id": {"type": "string"}}
        },
        "handlers.ListConversationsResponse": {
            "type": "object",
            "properties": {
                "conversations": {"type": "array", "items": {"$ref": "#/definitions/domain.Conversation"}},
                "pagination": {"$ref": "#/definitions/handlers.Pagination"}
            }
        },
        "handlers.ListMessagesResponse": {
            "type": "object",
            "properties": {
                "messages": {"type": "array", "items": {"$ref": "#/definitions/domain.Message"}},
                "pagination": {"$ref": "#/definitions/handlers.Pagination"}
            }
        },
        "handlers.SendMessageRequest": {
            "type": "object",
            "required": ["content"],
            "properties": {
                "conversation_id": {"type": "string"},
                "assessment_id": {"type": "string"},
                "assessment": {"type": "object"},
                "content": {"type": "string"},
                "parent_message_id": {"type": "string"},
                "options": {"type": "object"}
            }
        },
        "handlers.SendMessageResponse": {
            "type": "object",
            "properties": {
                "conversation": {"$ref": "#/definitions/domain.Conversation"},
                "user_message": {"$ref": "#/definitions/domain.Message"},
                "assistant_message": {"$ref": "#/definitions/domain.Message"}
            }
        },
        "handlers.EditMessageRequest": {
            "type": "object",
            "required": ["content"],
            "properties": {"content": {"type": "string"}}
        },
        "handlers.EditMessageResponse": {
            "type": "object",
            "properties": {
                "message": {"$ref": "#/definitions/domain.Message"},
                "removed": {"type": "integer"}
            }
        },
        "handlers.CreateJobRequest": {
            "type": "object",
            "required": ["prompt"],
            "properties": {
                "conversation_id": {"type": "string"},
                "assessment_id": {"type": "string"},
                "assessment": {"type": "object"},
                "prompt": {"type": "string"},
                "options": {"type": "object"},
                "webhook_url": {"type": "string"}
            }
        },
        "handlers.CreateJobResponse": {
            "type": "object",
            "properties": {
                "job_id": {"type": "string"},
                "status": {"type": "string"},
                "conversation_id": {"type": "string"}
            }
        },
        "ratelimit.UsageStats": {
            "type": "object",
            "properties": {
                "calls_today": {"type": "integer"},
                "daily_limit": {"type": "integer"},
                "remaining": {"type": "integer"},
                "percent_used": {"type": "number"},
                "reset_date": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Assessment Chat API",
	Description:      "Conversational assistant over cycle assessments.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
