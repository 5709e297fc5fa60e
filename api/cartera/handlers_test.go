package cartera

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CarteraDash/api/cartera/maestro"
	"CarteraDash/api/constants"
	"CarteraDash/internal/config"
	"CarteraDash/internal/extract"
	"CarteraDash/internal/jobs"
	"CarteraDash/internal/store"
)

var clock = time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

func newTestDashboard(t *testing.T) (*Dashboard, config.Paths, http.Handler) {
	t.Helper()
	paths := config.NewPaths(t.TempDir())
	require.NoError(t, paths.EnsureDirs())
	runner := jobs.NewRunner(paths, time.UTC)
	runner.Now = func() time.Time { return clock }
	runner.Maestro.Now = runner.Now

	d, err := NewDashboard(paths, time.UTC, runner, nil, nil)
	require.NoError(t, err)
	d.Now = func() time.Time { return clock }
	runner.Resources = d.Files
	t.Cleanup(d.Events.Stop)
	return d, paths, NewRouter(d)
}

func writeCSV(t *testing.T, path string, cols []string, rows ...[]string) {
	t.Helper()
	tbl := extract.NewTable(cols)
	for _, r := range rows {
		tbl.Append(r)
	}
	require.NoError(t, extract.WriteCSV(path, tbl))
}

func seedMaster(t *testing.T, paths config.Paths) {
	t.Helper()
	writeCSV(t, paths.MasterCSV(),
		[]string{"COD. CLIENTE", "NIT", "RAZÓN SOCIAL", "CIUDAD", "ADMINISTRADOR", "TOTAL CARTERA",
			"ESTADO", "DIAS_MORA", "Franja Mora Cyres", "Franja de Mora Coca-Cola", "Fecha_Vencimiento"},
		[]string{"100", "900100", "Tienda Uno", "Cali", "Marta", "1000", "PENDIENTE", "10", "6- 8 a 14", "2- 8 a 14", "2026-01-05"},
		[]string{"200", "900200", "Surtidor", "Bogota", "Pedro", "300", "PENDIENTE", "0", "0- Corriente", "0- Corriente", "2026-01-20"},
	)
	writeCSV(t, paths.PaymentsCSV(),
		[]string{"COD. CLIENTE", "FECHA PAGO", "VALOR PAGADO"},
		[]string{"100", "05/01/2026", "600"},
	)
}

func seedGestion(t *testing.T, paths config.Paths) {
	t.Helper()
	f, err := os.Create(paths.ManagementLog())
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("gestion.csv")
	require.NoError(t, err)
	_, err = w.Write([]byte("CODIGO_CLIENTE;USUARIO_GESTION;FECHA_GESTION;CONTACTO\n100;Ana;15/01/2026;EFECTIVO\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func seedSnapshot(t *testing.T, paths config.Paths) {
	t.Helper()
	path := filepath.Join(paths.Snapshots(), "corte.csv")
	writeCSV(t, path, maestro.RequiredColumns,
		[]string{"100", "F1", "01/01/2026", "05/01/2026", "1000"},
		[]string{"200", "F2", "02/01/2026", "20/01/2026", "500"},
	)
	mod := clock.AddDate(0, 0, -1)
	require.NoError(t, os.Chtimes(path, mod, mod))
}

func do(t *testing.T, h http.Handler, method, target string, body *bytes.Buffer, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, target, body)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

var jsonHeader = map[string]string{"Accept": constants.ContentTypeJSON}

func TestIndexRendersPortfolio(t *testing.T) {
	_, paths, h := newTestDashboard(t)
	seedMaster(t, paths)

	rec := do(t, h, http.MethodGet, "/", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, constants.ContentTypeHTML, rec.Header().Get(constants.ContentTypeText))
	body := rec.Body.String()
	assert.Contains(t, body, "Tienda Uno")
	assert.Contains(t, body, "$ 1.300")
	assert.Contains(t, body, "$ 600")

	rec = do(t, h, http.MethodGet, "/?vista=coca-cola&ciudad=Cali", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Tienda Uno")
	assert.NotContains(t, rec.Body.String(), "Surtidor")
}

func TestIndexWithoutMasterFails(t *testing.T) {
	_, _, h := newTestDashboard(t)

	rec := do(t, h, http.MethodGet, "/", nil, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), constants.ErrCarteraUnavailable)
	assert.Contains(t, rec.Body.String(), constants.MsgFileNotFound)
}

func TestDetalleAnalisisView(t *testing.T) {
	_, paths, h := newTestDashboard(t)
	seedMaster(t, paths)

	rec := do(t, h, http.MethodGet, "/?vista=detalle_analisis", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Presupuesto vs. recaudo 1/2026")
}

func TestPortafolioAPI(t *testing.T) {
	_, paths, h := newTestDashboard(t)
	seedMaster(t, paths)

	rec := do(t, h, http.MethodGet, "/api/portafolio?vista=coca-cola", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, true, out["success"])
	data := out["data"].(map[string]interface{})
	assert.Equal(t, "coca-cola", data["vista"])
	assert.Equal(t, 1300.0, data["kpis"].(map[string]interface{})["total_cartera"])

	_, _, empty := newTestDashboard(t)
	rec = do(t, empty, http.MethodGet, "/api/presupuesto", nil, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, false, decode(t, rec)["success"])
}

func TestGestionPageAndAPI(t *testing.T) {
	_, paths, h := newTestDashboard(t)
	seedMaster(t, paths)
	seedGestion(t, paths)

	rec := do(t, h, http.MethodGet, "/gestion", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Ana")
	assert.Contains(t, rec.Body.String(), "Página 1 de 1")

	rec = do(t, h, http.MethodGet, "/api/gestion?limit=1&page=2", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := decode(t, rec)["data"].(map[string]interface{})
	pg := data["pagination"].(map[string]interface{})
	assert.Equal(t, 2.0, pg["total_records"])
	assert.Equal(t, 2.0, pg["total_pages"])
	detalle := data["report"].(map[string]interface{})["detalle_maestro"].([]interface{})
	assert.Len(t, detalle, 1)

	rec = do(t, h, http.MethodGet, "/api/gestion?limit=1&page=3", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data = decode(t, rec)["data"].(map[string]interface{})
	assert.Equal(t, 2.0, data["pagination"].(map[string]interface{})["total_pages"])
	assert.Empty(t, data["report"].(map[string]interface{})["detalle_maestro"].([]interface{}))

	rec = do(t, h, http.MethodGet, "/api/gestion?page=0", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGestionWithoutLog(t *testing.T) {
	_, paths, h := newTestDashboard(t)
	seedMaster(t, paths)

	rec := do(t, h, http.MethodGet, "/gestion", nil, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), constants.ErrGestionUnavailable)
}

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, map[string]string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	if field != "" {
		fw, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	} else {
		require.NoError(t, mw.WriteField("nada", "x"))
	}
	require.NoError(t, mw.Close())
	return body, map[string]string{
		"Content-Type": mw.FormDataContentType(),
		"Accept":       constants.ContentTypeJSON,
	}
}

func uploadMessages(t *testing.T, rec *httptest.ResponseRecorder) []interface{} {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode(t, rec)["data"].(map[string]interface{})["mensajes"].([]interface{})
}

func TestUploadPagosDeduplicates(t *testing.T) {
	_, paths, h := newTestDashboard(t)
	content := []byte("COD. CLIENTE;FECHA PAGO;VALOR PAGADO\n100;14/01/2026;250\n")

	body, hdr := multipartBody(t, constants.FieldPagos, "pagos_0114.csv", content)
	msgs := uploadMessages(t, do(t, h, http.MethodPost, "/upload", body, hdr))
	assert.Equal(t, []interface{}{"Archivo de pagos 'pagos_0114.csv' subido con éxito."}, msgs)
	_, err := os.Stat(filepath.Join(paths.Payments(), "pagos_0114.csv"))
	require.NoError(t, err)

	body, hdr = multipartBody(t, constants.FieldPagos, "copia.csv", content)
	msgs = uploadMessages(t, do(t, h, http.MethodPost, "/upload", body, hdr))
	assert.Equal(t, []interface{}{constants.FormatUploadDuplicate("copia.csv", "pagos_0114.csv")}, msgs)
	_, err = os.Stat(filepath.Join(paths.Payments(), "copia.csv"))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	body, hdr = multipartBody(t, constants.FieldPagos, "notas.txt", []byte("x"))
	msgs = uploadMessages(t, do(t, h, http.MethodPost, "/upload", body, hdr))
	assert.Equal(t, []interface{}{"Tipo de archivo no soportado: notas.txt"}, msgs)

	body, hdr = multipartBody(t, "", "", nil)
	msgs = uploadMessages(t, do(t, h, http.MethodPost, "/upload", body, hdr))
	assert.Equal(t, []interface{}{constants.ErrUploadEmpty}, msgs)
}

func TestUploadProyectadoRunsMaestro(t *testing.T) {
	d, paths, h := newTestDashboard(t)
	tmp := filepath.Join(t.TempDir(), "origen.csv")
	writeCSV(t, tmp, maestro.RequiredColumns, []string{"100", "F1", "01/01/2026", "05/01/2026", "1000"})
	content, err := os.ReadFile(tmp)
	require.NoError(t, err)

	body, hdr := multipartBody(t, constants.FieldProyectados, `..\..\corte.csv`, content)
	msgs := uploadMessages(t, do(t, h, http.MethodPost, "/upload", body, hdr))
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "Archivo proyectado subido y Maestro actualizado: ")

	_, err = os.Stat(filepath.Join(paths.Snapshots(), "corte.csv"))
	require.NoError(t, err)
	_, err = os.Stat(paths.MasterCSV())
	require.NoError(t, err)
	assert.Equal(t, "corte.csv", d.Files.LatestFile(KeyProyectados))
	assert.NotEqual(t, constants.MsgFileNotFound, d.Files.FileStamp(KeyCartera))
}

func TestRunEndpoints(t *testing.T) {
	_, paths, h := newTestDashboard(t)

	rec := do(t, h, http.MethodPost, "/ejecutar-maestro", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "❌ Error al procesar: ")

	rec = do(t, h, http.MethodPost, "/ejecutar-pagos", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Error: ")

	seedSnapshot(t, paths)
	writeCSV(t, filepath.Join(paths.Payments(), "pagos_0114.csv"),
		[]string{"COD. CLIENTE", "FECHA PAGO", "VALOR PAGADO"},
		[]string{"100", "14/01/2026", "250"},
	)
	rec = do(t, h, http.MethodPost, "/ejecutar-script", nil, jsonHeader)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, true, out["success"])
	runs := out["data"].([]interface{})
	require.Len(t, runs, 2)
	assert.Equal(t, jobs.KindPagos, runs[0].(map[string]interface{})["kind"])
	assert.Equal(t, jobs.KindMaestro, runs[1].(map[string]interface{})["kind"])

	rec = do(t, h, http.MethodPost, "/ejecutar-maestro", nil, nil)
	assert.Contains(t, rec.Body.String(), "✅ ")

	rec = do(t, h, http.MethodGet, "/ejecutar-maestro", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

type fakeRuns struct {
	runs  []store.Run
	total int
	err   error
}

func (f *fakeRuns) ListRuns(_ context.Context, limit, offset int) ([]store.Run, error) {
	if f.err != nil {
		return nil, f.err
	}
	end := min(offset+limit, len(f.runs))
	if offset > end {
		return []store.Run{}, nil
	}
	return f.runs[offset:end], nil
}

func (f *fakeRuns) CountRuns(context.Context) (int, error) {
	return f.total, f.err
}

func TestRunsAPI(t *testing.T) {
	d, _, h := newTestDashboard(t)

	rec := do(t, h, http.MethodGet, "/api/runs", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	d.Runs = &fakeRuns{
		runs:  []store.Run{{ID: "a", Kind: "maestro"}, {ID: "b", Kind: "pagos"}, {ID: "c", Kind: "maestro"}},
		total: 3,
	}
	rec = do(t, h, http.MethodGet, "/api/runs?limit=2&page=2", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	rows := out["rows"].([]interface{})
	require.Len(t, rows, 1)
	assert.Equal(t, "c", rows[0].(map[string]interface{})["run_id"])
	pg := out["pagination"].(map[string]interface{})
	assert.Equal(t, 3.0, pg["total_records"])
	assert.Equal(t, 2.0, pg["total_pages"])

	d.Runs = &fakeRuns{err: errors.New("down")}
	rec = do(t, h, http.MethodGet, "/api/runs", nil, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestResumenDegradesMissingSections(t *testing.T) {
	_, paths, h := newTestDashboard(t)
	seedMaster(t, paths)

	rec := do(t, h, http.MethodGet, "/api/resumen", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := decode(t, rec)["data"].(map[string]interface{})
	assert.NotNil(t, data["portafolio"])
	assert.NotNil(t, data["presupuesto"])
	assert.Nil(t, data["gestion"])
	assert.Equal(t, constants.MsgFileNotFound, data["archivos"].(map[string]interface{})[KeyGestion])
}

func TestHealthAndMetrics(t *testing.T) {
	_, _, h := newTestDashboard(t)

	rec := do(t, h, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["data"].(map[string]interface{})["status"])

	rec = do(t, h, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `cartera_http_requests_total{code="200",route="/healthz"}`)
}

func TestUploadPageListsLatestFiles(t *testing.T) {
	_, paths, h := newTestDashboard(t)
	require.NoError(t, os.RemoveAll(paths.Payments()))

	rec := do(t, h, http.MethodGet, "/upload", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), constants.MsgNoFiles)
	_, err := os.Stat(paths.Payments())
	assert.NoError(t, err)
}

func TestFormatters(t *testing.T) {
	assert.Equal(t, "$ 1.234.567", FormatMoney(1234567.4))
	assert.Equal(t, "$ -1.500", FormatMoney(-1500))
	assert.Equal(t, "12.345", FormatCount(12345))
	assert.Equal(t, "12.5%", FormatPct(12.46))
	assert.Equal(t, "corte.csv", safeName("../../corte.csv"))
	assert.Equal(t, "corte.csv", safeName(`C:\Users\x\corte.csv`))
	assert.Equal(t, "", safeName(".."))
}
