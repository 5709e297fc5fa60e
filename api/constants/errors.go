package constants

import "fmt"

// ============================================================================
// FILE STATUS
// ============================================================================

const (
	MsgFileNotFound = "Archivo no encontrado"
	MsgNoFiles      = "Sin archivos"
)

// ============================================================================
// UPLOAD
// ============================================================================

const (
	MsgPagosUploaded      = "Archivo de pagos '%s' subido con éxito."
	MsgProyUploaded       = "Archivo proyectado subido y Maestro actualizado: %s"
	MsgProyUploadedFailed = "Archivo subido, pero error en cálculos: %s"
	MsgDuplicateUpload    = "El archivo '%s' ya existe en la carpeta (contenido idéntico a '%s')."
	ErrUploadForm         = "No se pudo leer el formulario de carga"
	ErrUploadSave         = "No se pudo guardar el archivo"
	ErrUploadEmpty        = "No se seleccionó ningún archivo"
	ErrUploadUnsupported  = "Tipo de archivo no soportado: %s"
)

// ============================================================================
// CONSOLIDATION RUNS
// ============================================================================

const (
	MsgRunOK      = "✅ %s"
	MsgRunFailed  = "❌ Error al procesar: %s"
	MsgRunError   = "Error: %s"
	ErrLedgerDown = "El registro de ejecuciones no está disponible"
)

// ============================================================================
// VIEWS
// ============================================================================

const (
	ErrCarteraUnavailable = "No fue posible leer el archivo maestro de cartera"
	ErrGestionUnavailable = "No fue posible leer el archivo de gestión"
	ErrRenderFailed       = "Error al generar la vista"
	ErrInvalidPagination  = "Parámetros de paginación inválidos"
	ErrMethodNotAllowed   = "Método no permitido"
)

// Helper functions for dynamic error messages

func FormatUploadDuplicate(name, existing string) string {
	return fmt.Sprintf(MsgDuplicateUpload, name, existing)
}
