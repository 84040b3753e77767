package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrcode/nightscout-loop/internal/config"
	"github.com/mrcode/nightscout-loop/internal/errors"
	"github.com/mrcode/nightscout-loop/internal/models"
	"github.com/mrcode/nightscout-loop/internal/schema"
)

const testConfig = `
[nightscout]
api_secret = "hunter2hunter2"

[log]
level = "error"
`

const snapshotYAML = `
version: 1
now: 2024-03-01T12:02:00Z
units: mg/dL
glucose:
  - {date: 2024-03-01T11:50:00Z, value: 120}
  - {date: 2024-03-01T11:55:00Z, value: 122}
  - {date: 2024-03-01T12:00:00Z, value: 124}
carbs:
  - {date: 2024-03-01T11:30:00Z, grams: 40, absorptionTime: fast}
doses:
  - {type: bolus, start: 2024-03-01T11:30:00Z, value: 3}
therapy:
  units: mg/dL
  carbRatios: [{start: "00:00", value: 10}]
  insulinSensitivity: [{start: "00:00", value: 45}]
  basalRates: [{start: "00:00", value: 1}]
  targetRanges: [{start: "00:00", min: 100, max: 115}]
  guardrails: {maxBolus: 10, maxBasalRate: 3, suspendThreshold: 70}
`

const reservoirJSON = `{
  "version": 1,
  "readings": [
    {"date": "2024-03-01T12:00:00Z", "volume": 100},
    {"date": "2024-03-01T12:05:00Z", "volume": 99.5},
    {"date": "2024-03-01T12:10:00Z", "volume": 99}
  ]
}`

// execute runs the command line with a config file holding contents
func execute(t *testing.T, contents, stdin string, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, config.FileName)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", path}, args...))

	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestPredict(t *testing.T) {
	path := writeFile(t, "snapshot.yaml", snapshotYAML)

	out, err := execute(t, testConfig, "", "predict", path)
	require.NoError(t, err)

	var doc schema.ResultDocument
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, schema.Version, doc.Version)
	assert.Equal(t, "mg/dL", doc.Units)
	assert.Equal(t, 124.0, doc.Glucose)
	assert.NotEmpty(t, doc.Prediction)
	assert.Greater(t, doc.IOB, 0.0)
	require.NotNil(t, doc.Recommendation)
}

func TestPredict_StdinAndUnits(t *testing.T) {
	out, err := execute(t, testConfig, snapshotYAML,
		"predict", "-", "--input-format", "yaml", "--format", "yaml", "--units", "mmol/L")
	require.NoError(t, err)
	assert.Contains(t, out, "units: mmol/L")

	_, err = execute(t, testConfig, snapshotYAML, "predict", "-", "--input-format", "yaml", "--units", "g")
	assert.Equal(t, ExitInvalidConfig, ExitCode(err))
}

func TestPredict_NoRecommendation(t *testing.T) {
	stale := strings.Replace(snapshotYAML, "now: 2024-03-01T12:02:00Z", "now: 2024-03-01T14:00:00Z", 1)
	path := writeFile(t, "snapshot.yaml", stale)

	_, err := execute(t, testConfig, "", "predict", path)
	require.Error(t, err)
	assert.Equal(t, ExitNoRecommendation, ExitCode(err))
}

func TestReconcile(t *testing.T) {
	path := writeFile(t, "reservoir.json", reservoirJSON)

	out, err := execute(t, testConfig, "", "reconcile", path)
	require.NoError(t, err)

	var doc schema.ReconciliationDocument
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.InDelta(t, 1.0, doc.TotalUnits, 1e-9)
	assert.Equal(t, 1.0, doc.Coverage)
	assert.Len(t, doc.Doses, 2)
	assert.Empty(t, doc.Interruptions)
}

func TestCheck(t *testing.T) {
	out, err := execute(t, testConfig, "", "check", "bolus", "4.52")
	require.NoError(t, err)
	assert.Contains(t, out, "delivers 4.5 U")

	_, err = execute(t, testConfig, "", "check", "bolus", "12")
	assert.Equal(t, ExitGuardrail, ExitCode(err))

	out, err = execute(t, testConfig, "", "check", "temp-basal", "1.21", "--duration", "1h")
	require.NoError(t, err)
	assert.Contains(t, out, "delivers 1.2 U/hr")

	_, err = execute(t, testConfig, "", "check", "temp-basal", "1", "--duration", "25h")
	assert.Equal(t, ExitGuardrail, ExitCode(err))

	_, err = execute(t, testConfig, "", "check", "bolus", "lots")
	assert.Equal(t, ExitError, ExitCode(err))
}

func TestConfigShow(t *testing.T) {
	out, err := execute(t, testConfig, "", "config", "show", "--format", "json")
	require.NoError(t, err)

	var cfg config.Config
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, "********", cfg.Nightscout.APISecret)
	assert.Equal(t, "error", cfg.Log.Level)

	out, err = execute(t, testConfig, "", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "[engine]")
	assert.NotContains(t, out, "hunter2")

	out, err = execute(t, testConfig, "", "config", "show", "--format", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "interval: 5m0s")

	_, err = execute(t, testConfig, "", "config", "show", "--format", "xml")
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	out, err := execute(t, testConfig, "", "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid")

	_, err = execute(t, testConfig+"\n[loop]\nbolus_increment = 0.0\n", "", "config", "validate")
	assert.Equal(t, ExitInvalidConfig, ExitCode(err))
}

func TestRun_RequiresNightscout(t *testing.T) {
	_, err := execute(t, testConfig, "", "run")
	require.Error(t, err)
	assert.Equal(t, ExitInvalidConfig, ExitCode(err))
	assert.NotEmpty(t, errors.FlattenHints(err))
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, ExitOK},
		{errors.Wrap(errors.ErrInsufficientData, "stale"), ExitNoRecommendation},
		{errors.ErrIncompatibleUnits, ExitInvalidConfig},
		{errors.ErrGuardrailViolation, ExitGuardrail},
		{errors.ErrReconciliationAnomaly, ExitError},
		{errors.New("boom"), ExitError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExitCode(tt.err), "%v", tt.err)
	}
}

const profileJSON = `[{
	"_id": "p1",
	"defaultProfile": "Default",
	"units": "mg/dl",
	"store": {
		"Default": {
			"dia": 6,
			"timezone": "UTC",
			"carbratio": [{"time": "00:00", "value": 10}, {"time": "12:00", "value": 9}],
			"sens": [{"time": "00:00", "value": 45}],
			"basal": [{"time": "00:00", "value": 0.8}],
			"target_low": [{"time": "00:00", "value": 100}],
			"target_high": [{"time": "00:00", "value": 115}]
		}
	}
}]`

// nightscoutConfig serves a fake Nightscout site and returns a config
// pointing at it
func nightscoutConfig(t *testing.T) string {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/status", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status": "ok", "name": "nightscout", "version": "15.0.2"}`))
	})
	mux.HandleFunc("/api/v1/entries/current", func(w http.ResponseWriter, _ *http.Request) {
		date := time.Now().Add(-3 * time.Minute).UnixMilli()
		_, _ = fmt.Fprintf(w, `[{"sgv": 124, "date": %d, "direction": "Flat"}]`, date)
	})
	mux.HandleFunc("/api/v1/profile", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(profileJSON))
	})
	mux.HandleFunc("/api/v1/treatments", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return fmt.Sprintf(`
[nightscout]
url = %q
api_secret = "hunter2hunter2"

[log]
level = "error"
`, server.URL)
}

func TestStatus(t *testing.T) {
	cfg := nightscoutConfig(t)

	out, err := execute(t, cfg, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Connected to")
	assert.Contains(t, out, "124 mg/dL Flat (normal, 3m0s ago)")

	out, err = execute(t, cfg+"\n[therapy]\nunits = \"mmol/L\"\n", "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "6.9 mmol/L")
}

func TestTherapyExport(t *testing.T) {
	cfg := nightscoutConfig(t)
	path := filepath.Join(t.TempDir(), "therapy.yaml")

	out, err := execute(t, cfg, "", "therapy", "export", path)
	require.NoError(t, err)
	assert.Contains(t, out, "written to")

	var doc schema.TherapyDocument
	require.NoError(t, schema.ReadFile(path, &doc))
	settings, err := doc.TherapySettings()
	require.NoError(t, err)
	assert.Equal(t, models.Guardrails{MaxBolus: 10, MaxBasalRate: 3, SuspendThreshold: 70}, settings.Guardrails)

	ratio, err := settings.CarbRatios.At(time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 9.0, ratio)

	out, err = execute(t, cfg, "", "therapy", "export", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "units: mg/dL")

	_, err = execute(t, testConfig, "", "therapy", "export", path)
	assert.Equal(t, ExitInvalidConfig, ExitCode(err))
}
