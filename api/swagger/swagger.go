package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Campus Certificate API",
        "description": "Certificate issuance, ledger anchoring and public verification",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": ["http", "https"],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "tags": [
        {"name": "Certificates", "description": "Issuance workflow, documents and register"},
        {"name": "Verification", "description": "Public certificate verification"},
        {"name": "SIS", "description": "School information system synchronization"}
    ],
    "paths": {
        "/certificates": {
            "get": {
                "tags": ["Certificates"],
                "summary": "List certificates",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "status", "in": "query", "type": "string", "description": "Comma separated statuses"},
                    {"name": "type", "in": "query", "type": "string"},
                    {"name": "year", "in": "query", "type": "integer"},
                    {"name": "search", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "pageSize", "in": "query", "type": "integer"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            },
            "post": {
                "tags": ["Certificates"],
                "summary": "Issue a certificate",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/IssueCertificateRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/certificates/export": {
            "get": {
                "tags": ["Certificates"],
                "summary": "Export the certificate register",
                "security": [{"BearerAuth": []}],
                "produces": ["text/csv", "application/pdf"],
                "parameters": [
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]},
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "type", "in": "query", "type": "string"},
                    {"name": "year", "in": "query", "type": "integer"}
                ],
                "responses": {"200": {"description": "Register file"}}
            }
        },
        "/certificates/documents/{token}": {
            "get": {
                "tags": ["Certificates"],
                "summary": "Download a certificate document",
                "produces": ["application/pdf"],
                "parameters": [{"name": "token", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "PDF document"},
                    "403": {"description": "Expired or invalid link", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Document unavailable", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/certificates/{id}": {
            "get": {
                "tags": ["Certificates"],
                "summary": "Get certificate",
                "security": [{"BearerAuth": []}],
                "parameters": [{"$ref": "#/parameters/CertificateID"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "put": {
                "tags": ["Certificates"],
                "summary": "Amend a draft certificate",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"$ref": "#/parameters/CertificateID"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdateCertificateRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Not a draft", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/certificates/{id}/history": {
            "get": {
                "tags": ["Certificates"],
                "summary": "Certificate audit trail",
                "security": [{"BearerAuth": []}],
                "parameters": [{"$ref": "#/parameters/CertificateID"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/certificates/{id}/document": {
            "get": {
                "tags": ["Certificates"],
                "summary": "Signed link to the certificate document",
                "security": [{"BearerAuth": []}],
                "parameters": [{"$ref": "#/parameters/CertificateID"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Not issued", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/certificates/{id}/submit": {
            "post": {
                "tags": ["Certificates"],
                "summary": "Submit a draft for approval",
                "security": [{"BearerAuth": []}],
                "parameters": [{"$ref": "#/parameters/CertificateID"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/certificates/{id}/reject": {
            "post": {
                "tags": ["Certificates"],
                "summary": "Return a pending certificate to draft",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"$ref": "#/parameters/CertificateID"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ReasonRequest"}}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/certificates/{id}/approve": {
            "post": {
                "tags": ["Certificates"],
                "summary": "Approve and anchor a certificate",
                "security": [{"BearerAuth": []}],
                "parameters": [{"$ref": "#/parameters/CertificateID"}],
                "responses": {
                    "200": {"description": "Issued", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Approver is the submitter", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "502": {"description": "Anchoring failed, retry scheduled", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/certificates/{id}/anchor/retry": {
            "post": {
                "tags": ["Certificates"],
                "summary": "Retry ledger anchoring",
                "security": [{"BearerAuth": []}],
                "parameters": [{"$ref": "#/parameters/CertificateID"}],
                "responses": {"200": {"description": "Issued", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/certificates/{id}/anchor/override": {
            "post": {
                "tags": ["Certificates"],
                "summary": "Issue without a ledger anchor",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"$ref": "#/parameters/CertificateID"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ReasonRequest"}}
                ],
                "responses": {
                    "200": {"description": "Issued", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Override not permitted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/certificates/{id}/revoke": {
            "post": {
                "tags": ["Certificates"],
                "summary": "Revoke an issued certificate",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"$ref": "#/parameters/CertificateID"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ReasonRequest"}}
                ],
                "responses": {"200": {"description": "Revoked", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/verify/{code}": {
            "get": {
                "tags": ["Verification"],
                "summary": "Verify a certificate",
                "parameters": [{"name": "code", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "Verification result", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "429": {"description": "Rate limited"}
                }
            }
        },
        "/verify": {
            "post": {
                "tags": ["Verification"],
                "summary": "Verify a certificate",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"type": "object", "properties": {"code": {"type": "string"}}}}
                ],
                "responses": {
                    "200": {"description": "Verification result", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Missing code", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/sis/sync": {
            "post": {
                "tags": ["SIS"],
                "summary": "Synchronize with the SIS",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SISSyncRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "502": {"description": "Gateway unavailable", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/sis/status": {
            "get": {
                "tags": ["SIS"],
                "summary": "SIS gateway status",
                "security": [{"BearerAuth": []}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/sis/verify": {
            "get": {
                "tags": ["SIS"],
                "summary": "Verify by certificate number",
                "security": [{"BearerAuth": []}],
                "parameters": [{"name": "certificateNo", "in": "query", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            },
            "post": {
                "tags": ["SIS"],
                "summary": "Verify by certificate number",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"type": "object", "properties": {"certificateNo": {"type": "string"}}}}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/sis/students/{studentId}/records": {
            "get": {
                "tags": ["SIS"],
                "summary": "Ledger records for a student",
                "security": [{"BearerAuth": []}],
                "parameters": [{"name": "studentId", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        }
    },
    "parameters": {
        "CertificateID": {"name": "id", "in": "path", "required": true, "type": "string"}
    },
    "definitions": {
        "IssueCertificateRequest": {
            "type": "object",
            "required": ["studentId", "studentName", "studentNumber", "program", "graduationYear", "type"],
            "properties": {
                "studentId": {"type": "string"},
                "studentName": {"type": "string"},
                "studentNumber": {"type": "string"},
                "program": {"type": "string"},
                "department": {"type": "string"},
                "classOfDegree": {"type": "string"},
                "cgpa": {"type": "number"},
                "graduationYear": {"type": "integer"},
                "type": {"type": "string", "enum": ["degree", "diploma", "transcript", "attestation", "provisional"]},
                "draft": {"type": "boolean"}
            }
        },
        "UpdateCertificateRequest": {
            "type": "object",
            "properties": {
                "studentName": {"type": "string"},
                "studentNumber": {"type": "string"},
                "program": {"type": "string"},
                "department": {"type": "string"},
                "classOfDegree": {"type": "string"},
                "clearClassOfDegree": {"type": "boolean"},
                "cgpa": {"type": "number"},
                "clearCgpa": {"type": "boolean"},
                "graduationYear": {"type": "integer"},
                "type": {"type": "string"}
            }
        },
        "ReasonRequest": {
            "type": "object",
            "properties": {
                "note": {"type": "string"},
                "reason": {"type": "string"}
            }
        },
        "SISSyncRequest": {
            "type": "object",
            "required": ["type", "data"],
            "properties": {
                "type": {"type": "string", "enum": ["student", "certificate", "graduation"]},
                "data": {"type": "object"}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
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
                "pagination": {"$ref": "#/definitions/Pagination"},
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
