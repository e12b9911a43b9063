package archive

import (
	"path/filepath"
	"time"

	"github.com/perfstack/perf-sentinel/internal/models"
	"github.com/perfstack/perf-sentinel/internal/utils"
)

// File names within one run directory.
const (
	RunFileName       = "results.jsonl"
	AnomaliesFileName = "anomalies.jsonl"
	SummaryFileName   = "summary.json"
	BatchLogFileName  = "analysis_log.jsonl"
)

// BatchLogRecord is one line in a run's analysis journal, appended as each
// batch resolves. An interrupted run keeps a trace of what completed even
// though the final anomaly files are only written at the end.
type BatchLogRecord struct {
	Time      string `json:"time"`
	BatchID   string `json:"batch_id"`
	Engine    string `json:"engine"`
	Anomalies int    `json:"anomalies"`
	Cached    bool   `json:"cached"`
}

// ReadRunEntries loads the parsed observations for a run. Upstream parsing
// guarantees well-formed records, so a decode failure here is an error rather
// than something to skip.
func ReadRunEntries(runDir string) ([]models.Entry, error) {
	return utils.ReadJSONL[models.Entry](filepath.Join(runDir, RunFileName))
}

// ReadExistingAnomalies returns previously written anomaly records for a run,
// or nil when the run has not been analysed yet.
func ReadExistingAnomalies(runDir string) ([]models.AnomalyRecord, error) {
	return utils.ReadJSONL[models.AnomalyRecord](filepath.Join(runDir, AnomaliesFileName))
}

// AppendBatchLog journals one resolved batch. The journal is diagnostic, so
// callers treat failures as non-fatal.
func AppendBatchLog(runDir string, rec BatchLogRecord) error {
	return utils.AppendJSONL(filepath.Join(runDir, BatchLogFileName), rec)
}

// ReadBatchLog returns the journal lines for a run, oldest first.
func ReadBatchLog(runDir string) ([]BatchLogRecord, error) {
	return utils.ReadJSONL[BatchLogRecord](filepath.Join(runDir, BatchLogFileName))
}

// WriteRunResults persists a run's anomaly records and summary, stamping the
// analysis time. Callers only invoke this after the full batch set has
// resolved so a run directory never holds a partially analysed state.
func WriteRunResults(runDir string, anomalies []models.AnomalyRecord, summary models.RunSummary) error {
	summary.AnalysisTime = time.Now().UTC().Format(time.RFC3339)
	if err := utils.WriteJSONL(filepath.Join(runDir, AnomaliesFileName), anomalies); err != nil {
		return err
	}
	return utils.WriteJSON(filepath.Join(runDir, SummaryFileName), summary)
}
