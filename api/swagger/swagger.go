package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "SMA Status API",
        "description": "Status assignment rule engine: frequency policies, exclusivity and terminal cascades.",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "tags": [
        {"name": "Status Definitions", "description": "Catalog of assignable statuses"},
        {"name": "Status Assignments", "description": "Assign, update and remove subject statuses"}
    ],
    "paths": {
        "/status-definitions": {
            "get": {
                "tags": ["Status Definitions"],
                "summary": "List status definitions",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/status-definitions/{id}": {
            "get": {
                "tags": ["Status Definitions"],
                "summary": "Get a status definition",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/status-definitions/refresh": {
            "post": {
                "tags": ["Status Definitions"],
                "summary": "Reload the status catalog from storage",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Unauthorized"},
                    "403": {"description": "Forbidden"}
                }
            }
        },
        "/status-assignments": {
            "post": {
                "tags": ["Status Assignments"],
                "summary": "Assign a status to a subject",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateStatusAssignmentRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Rejected by a frequency policy or exclusivity rule", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "Scope could not be resolved", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/status-assignments/{id}": {
            "get": {
                "tags": ["Status Assignments"],
                "summary": "Get a status assignment",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "patch": {
                "tags": ["Status Assignments"],
                "summary": "Update a status assignment",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdateStatusAssignmentRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Rejected by a frequency policy or exclusivity rule", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "Scope could not be resolved", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Status Assignments"],
                "summary": "Delete a status assignment",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "Deleted"},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/subjects/{subjectId}/status-assignments": {
            "get": {
                "tags": ["Status Assignments"],
                "summary": "List a subject's status assignments",
                "parameters": [
                    {"name": "subjectId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "CreateStatusAssignmentRequest": {
            "type": "object",
            "properties": {
                "subjectId": {"type": "string"},
                "statusDefinitionId": {"type": "string"},
                "sessionId": {"type": "string"},
                "promotionId": {"type": "string"},
                "subjectDomain": {"type": "string", "enum": ["ADMIN", "STAFF", "STUDENT"]},
                "isActive": {"type": "boolean"},
                "remarks": {"type": "string"}
            },
            "required": ["subjectId", "statusDefinitionId"]
        },
        "UpdateStatusAssignmentRequest": {
            "type": "object",
            "properties": {
                "statusDefinitionId": {"type": "string"},
                "sessionId": {"type": "string"},
                "promotionId": {"type": "string"},
                "subjectDomain": {"type": "string", "enum": ["ADMIN", "STAFF", "STUDENT"]},
                "isActive": {"type": "boolean"},
                "remarks": {"type": "string"}
            }
        },
        "StatusAssignment": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "subjectId": {"type": "string"},
                "statusDefinitionId": {"type": "string"},
                "sessionId": {"type": "string"},
                "promotionId": {"type": "string"},
                "academicYearKey": {"type": "string"},
                "semesterKey": {"type": "string"},
                "isActive": {"type": "boolean"},
                "remarks": {"type": "string"},
                "suppressedById": {"type": "string"},
                "byUserId": {"type": "string"},
                "createdAt": {"type": "string", "format": "date-time"},
                "updatedAt": {"type": "string", "format": "date-time"}
            }
        },
        "StatusDefinition": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "tag": {"type": "string"},
                "description": {"type": "string"},
                "category": {"type": "string"},
                "isTerminal": {"type": "boolean"},
                "levels": {"type": "array", "items": {"type": "string"}},
                "domains": {"type": "array", "items": {"type": "string"}},
                "frequencyPolicies": {"type": "array", "items": {"type": "string"}},
                "enrollmentStatus": {"type": "string"},
                "coexistence": {"type": "string"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"},
                "details": {"type": "object"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
