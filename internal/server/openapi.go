//-------------------------------------------------------------------------
//
// RAG Chat Server
//
// Copyright (c) 2026, the RAG Chat Server authors
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package server

import (
	"net/http"
)

// OpenAPISpec represents the OpenAPI v3 specification.
type OpenAPISpec struct {
	OpenAPI    string                 `json:"openapi"`
	Info       OpenAPIInfo            `json:"info"`
	Servers    []OpenAPIServer        `json:"servers"`
	Paths      map[string]OpenAPIPath `json:"paths"`
	Components OpenAPIComponents      `json:"components"`
}

// OpenAPIInfo contains API metadata.
type OpenAPIInfo struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Version     string `json:"version"`
}

// OpenAPIServer describes a server.
type OpenAPIServer struct {
	URL         string `json:"url"`
	Description string `json:"description"`
}

// OpenAPIPath contains operations for a path.
type OpenAPIPath struct {
	Get    *OpenAPIOperation `json:"get,omitempty"`
	Post   *OpenAPIOperation `json:"post,omitempty"`
	Put    *OpenAPIOperation `json:"put,omitempty"`
	Delete *OpenAPIOperation `json:"delete,omitempty"`
}

// OpenAPIOperation describes an API operation.
type OpenAPIOperation struct {
	Summary     string                     `json:"summary"`
	Description string                     `json:"description,omitempty"`
	OperationID string                     `json:"operationId"`
	Tags        []string                   `json:"tags,omitempty"`
	Parameters  []OpenAPIParameter         `json:"parameters,omitempty"`
	RequestBody *OpenAPIRequestBody        `json:"requestBody,omitempty"`
	Responses   map[string]OpenAPIResponse `json:"responses"`
}

// OpenAPIParameter describes a parameter.
type OpenAPIParameter struct {
	Name        string        `json:"name"`
	In          string        `json:"in"`
	Description string        `json:"description,omitempty"`
	Required    bool          `json:"required"`
	Schema      OpenAPISchema `json:"schema"`
}

// OpenAPIRequestBody describes a request body.
type OpenAPIRequestBody struct {
	Description string                      `json:"description,omitempty"`
	Required    bool                        `json:"required"`
	Content     map[string]OpenAPIMediaType `json:"content"`
}

// OpenAPIResponse describes a response.
type OpenAPIResponse struct {
	Description string                      `json:"description"`
	Content     map[string]OpenAPIMediaType `json:"content,omitempty"`
}

// OpenAPIMediaType describes a media type.
type OpenAPIMediaType struct {
	Schema OpenAPISchema `json:"schema"`
}

// OpenAPISchema describes a schema.
type OpenAPISchema struct {
	Type        string                   `json:"type,omitempty"`
	Format      string                   `json:"format,omitempty"`
	Description string                   `json:"description,omitempty"`
	Properties  map[string]OpenAPISchema `json:"properties,omitempty"`
	Items       *OpenAPISchema           `json:"items,omitempty"`
	Required    []string                 `json:"required,omitempty"`
	Default     any                      `json:"default,omitempty"`
	Ref         string                   `json:"$ref,omitempty"`
}

// OpenAPIComponents contains reusable components.
type OpenAPIComponents struct {
	Schemas map[string]OpenAPISchema `json:"schemas"`
}

// handleOpenAPI handles the GET /v1/openapi.json endpoint.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	spec := BuildOpenAPISpec()
	s.respondJSON(w, http.StatusOK, spec)
}

// errorResponses returns the shared error response set for an operation.
func errorResponses(statuses map[string]string) map[string]OpenAPIResponse {
	responses := make(map[string]OpenAPIResponse, len(statuses))
	for status, description := range statuses {
		responses[status] = OpenAPIResponse{
			Description: description,
			Content: map[string]OpenAPIMediaType{
				"application/json": {
					Schema: OpenAPISchema{
						Ref: "#/components/schemas/ErrorResponse",
					},
				},
			},
		}
	}
	return responses
}

// BuildOpenAPISpec constructs the OpenAPI v3 specification.
// This is exported so it can be used to generate static documentation.
func BuildOpenAPISpec() OpenAPISpec {
	converseResponses := errorResponses(map[string]string{
		"400": "Invalid request",
		"404": "Pipeline not found",
		"413": "Prompt exceeds the token budget",
		"422": "Model refused to answer",
		"500": "Server error",
		"503": "Index or model unavailable",
		"504": "Model timed out",
	})
	converseResponses["200"] = OpenAPIResponse{
		Description: "Completed conversational turn",
		Content: map[string]OpenAPIMediaType{
			"application/json": {
				Schema: OpenAPISchema{
					Ref: "#/components/schemas/ConverseResponse",
				},
			},
			"text/event-stream": {
				Schema: OpenAPISchema{
					Type:        "string",
					Description: "Server-Sent Events stream",
				},
			},
		},
	}

	return OpenAPISpec{
		OpenAPI: "3.0.3",
		Info: OpenAPIInfo{
			Title:       "RAG Chat Server API",
			Description: "REST API for conversational RAG (Retrieval-Augmented Generation) pipelines with session history",
			Version:     "1.0.0",
		},
		Servers: []OpenAPIServer{
			{
				URL:         "/v1",
				Description: "API v1",
			},
		},
		Paths: map[string]OpenAPIPath{
			"/health": {
				Get: &OpenAPIOperation{
					Summary:     "Health check",
					Description: "Check if the server is running and healthy",
					OperationID: "getHealth",
					Tags:        []string{"System"},
					Responses: map[string]OpenAPIResponse{
						"200": {
							Description: "Server is healthy",
							Content: map[string]OpenAPIMediaType{
								"application/json": {
									Schema: OpenAPISchema{
										Ref: "#/components/schemas/HealthResponse",
									},
								},
							},
						},
					},
				},
			},
			"/pipelines": {
				Get: &OpenAPIOperation{
					Summary:     "List pipelines",
					Description: "Get a list of all available conversational pipelines",
					OperationID: "listPipelines",
					Tags:        []string{"Pipelines"},
					Responses: map[string]OpenAPIResponse{
						"200": {
							Description: "List of pipelines",
							Content: map[string]OpenAPIMediaType{
								"application/json": {
									Schema: OpenAPISchema{
										Ref: "#/components/schemas/PipelinesResponse",
									},
								},
							},
						},
					},
				},
			},
			"/pipelines/{name}/converse": {
				Post: &OpenAPIOperation{
					Summary:     "Conversational turn",
					Description: "Send a message to a pipeline and receive a grounded answer. Omitting session_id starts a new session.",
					OperationID: "converse",
					Tags:        []string{"Pipelines"},
					Parameters: []OpenAPIParameter{
						{
							Name:        "name",
							In:          "path",
							Description: "Pipeline name",
							Required:    true,
							Schema: OpenAPISchema{
								Type: "string",
							},
						},
					},
					RequestBody: &OpenAPIRequestBody{
						Description: "Conversational turn request",
						Required:    true,
						Content: map[string]OpenAPIMediaType{
							"application/json": {
								Schema: OpenAPISchema{
									Ref: "#/components/schemas/ConverseRequest",
								},
							},
						},
					},
					Responses: converseResponses,
				},
			},
			"/pipelines/{name}/sessions": {
				Post: &OpenAPIOperation{
					Summary:     "Create session",
					Description: "Start a new empty conversation session",
					OperationID: "createSession",
					Tags:        []string{"Sessions"},
					Parameters: []OpenAPIParameter{
						{
							Name:        "name",
							In:          "path",
							Description: "Pipeline name",
							Required:    true,
							Schema: OpenAPISchema{
								Type: "string",
							},
						},
					},
					Responses: mergeResponses(
						map[string]OpenAPIResponse{
							"201": {
								Description: "Session created",
								Content: map[string]OpenAPIMediaType{
									"application/json": {
										Schema: OpenAPISchema{
											Ref: "#/components/schemas/SessionResponse",
										},
									},
								},
							},
						},
						errorResponses(map[string]string{
							"404": "Pipeline not found",
							"500": "Server error",
						}),
					),
				},
			},
			"/pipelines/{name}/sessions/{id}/history": {
				Get: &OpenAPIOperation{
					Summary:     "Session history",
					Description: "Get the turns of a session in chronological order. An unknown session has empty history.",
					OperationID: "getSessionHistory",
					Tags:        []string{"Sessions"},
					Parameters:  sessionParameters(),
					Responses: mergeResponses(
						map[string]OpenAPIResponse{
							"200": {
								Description: "Session history",
								Content: map[string]OpenAPIMediaType{
									"application/json": {
										Schema: OpenAPISchema{
											Ref: "#/components/schemas/HistoryResponse",
										},
									},
								},
							},
						},
						errorResponses(map[string]string{
							"404": "Pipeline not found",
							"500": "Server error",
						}),
					),
				},
			},
			"/pipelines/{name}/sessions/{id}": {
				Delete: &OpenAPIOperation{
					Summary:     "Delete session",
					Description: "Remove a session and its history",
					OperationID: "deleteSession",
					Tags:        []string{"Sessions"},
					Parameters:  sessionParameters(),
					Responses: mergeResponses(
						map[string]OpenAPIResponse{
							"204": {
								Description: "Session deleted",
							},
						},
						errorResponses(map[string]string{
							"404": "Pipeline or session not found",
							"500": "Server error",
						}),
					),
				},
			},
		},
		Components: OpenAPIComponents{
			Schemas: map[string]OpenAPISchema{
				"HealthResponse": {
					Type: "object",
					Properties: map[string]OpenAPISchema{
						"status": {
							Type:        "string",
							Description: "Health status",
						},
					},
					Required: []string{"status"},
				},
				"PipelinesResponse": {
					Type: "object",
					Properties: map[string]OpenAPISchema{
						"pipelines": {
							Type:        "array",
							Description: "List of available pipelines",
							Items: &OpenAPISchema{
								Ref: "#/components/schemas/PipelineInfo",
							},
						},
					},
					Required: []string{"pipelines"},
				},
				"PipelineInfo": {
					Type: "object",
					Properties: map[string]OpenAPISchema{
						"name": {
							Type:        "string",
							Description: "Pipeline name",
						},
						"description": {
							Type:        "string",
							Description: "Pipeline description",
						},
					},
					Required: []string{"name"},
				},
				"ConverseRequest": {
					Type: "object",
					Properties: map[string]OpenAPISchema{
						"session_id": {
							Type:        "string",
							Description: "Session to continue; omit to start a new session",
						},
						"message": {
							Type:        "string",
							Description: "The user utterance for this turn",
						},
						"stream": {
							Type:        "boolean",
							Description: "Enable streaming response (SSE)",
							Default:     false,
						},
						"top_k": {
							Type:        "integer",
							Description: "Override the pipeline's retrieval depth",
						},
						"include_sources": {
							Type:        "boolean",
							Description: "Include retrieved excerpt details in the response",
							Default:     false,
						},
					},
					Required: []string{"message"},
				},
				"ConverseResponse": {
					Type: "object",
					Properties: map[string]OpenAPISchema{
						"session_id": {
							Type:        "string",
							Description: "Session this turn belongs to",
						},
						"answer": {
							Type:        "string",
							Description: "The generated answer",
						},
						"citations": {
							Type:        "array",
							Description: "Deduplicated sources of the excerpts behind the answer",
							Items: &OpenAPISchema{
								Type: "string",
							},
						},
						"sources": {
							Type:        "array",
							Description: "Retrieved excerpts (only if include_sources=true)",
							Items: &OpenAPISchema{
								Ref: "#/components/schemas/Source",
							},
						},
						"tokens_used": {
							Type:        "integer",
							Description: "Total tokens consumed",
						},
					},
					Required: []string{"session_id", "answer", "tokens_used"},
				},
				"Source": {
					Type: "object",
					Properties: map[string]OpenAPISchema{
						"source": {
							Type:        "string",
							Description: "Document identifier, URI, or title",
						},
						"text": {
							Type:        "string",
							Description: "Excerpt text",
						},
						"score": {
							Type:        "number",
							Format:      "double",
							Description: "Relevance score",
						},
						"rank": {
							Type:        "integer",
							Description: "1-based relevance rank",
						},
					},
					Required: []string{"text", "score", "rank"},
				},
				"SessionResponse": {
					Type: "object",
					Properties: map[string]OpenAPISchema{
						"session_id": {
							Type:        "string",
							Description: "Identifier of the new session",
						},
						"created_at": {
							Type:        "string",
							Format:      "date-time",
							Description: "Session creation time",
						},
					},
					Required: []string{"session_id"},
				},
				"HistoryResponse": {
					Type: "object",
					Properties: map[string]OpenAPISchema{
						"session_id": {
							Type:        "string",
							Description: "Session identifier",
						},
						"turns": {
							Type:        "array",
							Description: "Turns in chronological order",
							Items: &OpenAPISchema{
								Ref: "#/components/schemas/Turn",
							},
						},
					},
					Required: []string{"session_id", "turns"},
				},
				"Turn": {
					Type: "object",
					Properties: map[string]OpenAPISchema{
						"role": {
							Type:        "string",
							Description: "Turn role (user or assistant)",
						},
						"content": {
							Type:        "string",
							Description: "Turn content",
						},
						"sources": {
							Type:        "array",
							Description: "Citations recorded with an assistant turn",
							Items: &OpenAPISchema{
								Type: "string",
							},
						},
						"created_at": {
							Type:        "string",
							Format:      "date-time",
							Description: "Turn creation time",
						},
					},
					Required: []string{"role", "content"},
				},
				"ErrorResponse": {
					Type: "object",
					Properties: map[string]OpenAPISchema{
						"error": {
							Ref: "#/components/schemas/ErrorDetail",
						},
					},
					Required: []string{"error"},
				},
				"ErrorDetail": {
					Type: "object",
					Properties: map[string]OpenAPISchema{
						"code": {
							Type:        "string",
							Description: "Error code",
						},
						"message": {
							Type:        "string",
							Description: "Error message",
						},
					},
					Required: []string{"code", "message"},
				},
			},
		},
	}
}

// sessionParameters returns the path parameters shared by the session
// endpoints.
func sessionParameters() []OpenAPIParameter {
	return []OpenAPIParameter{
		{
			Name:        "name",
			In:          "path",
			Description: "Pipeline name",
			Required:    true,
			Schema: OpenAPISchema{
				Type: "string",
			},
		},
		{
			Name:        "id",
			In:          "path",
			Description: "Session identifier",
			Required:    true,
			Schema: OpenAPISchema{
				Type: "string",
			},
		},
	}
}

// mergeResponses combines success and error response maps.
func mergeResponses(maps ...map[string]OpenAPIResponse) map[string]OpenAPIResponse {
	merged := make(map[string]OpenAPIResponse)
	for _, m := range maps {
		for status, resp := range m {
			merged[status] = resp
		}
	}
	return merged
}
