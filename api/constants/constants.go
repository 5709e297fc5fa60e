package constants

// Content Types
const (
	ContentTypeJSON = "application/json"
	ContentTypeHTML = "text/html; charset=utf-8"
	ContentTypeText = "Content-Type"
)

// CORS / SSE headers
const (
	HeaderAccessControlAllowOrigin  = "Access-Control-Allow-Origin"
	HeaderAccessControlAllowHeaders = "Access-Control-Allow-Headers"
)

// Date formats
const (
	FileStampFormat = "02/01/2006 03:04 PM"
)

// Query parameters
const (
	ParamVista    = "vista"
	ParamCiudad   = "ciudad"
	ParamAnalista = "analista"
	ParamPage     = "page"
	ParamLimit    = "limit"
)

// Upload form fields
const (
	FieldPagos       = "file_pagos"
	FieldProyectados = "file_proy"

	MaxUploadBytes = 64 << 20
)

// Event types pushed to the browser
const (
	EventConnected   = "connected"
	EventPing        = "ping"
	EventRunStarted  = "run_started"
	EventRunFinished = "run_finished"
)
