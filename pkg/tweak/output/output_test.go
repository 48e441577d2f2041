package output

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tweakctl/tweakctl/pkg/tweak/engine"
	"github.com/tweakctl/tweakctl/pkg/tweak/types"
)

func sampleReport() *Report {
	return &Report{
		Statuses: []StatusRow{
			{KnobID: "cpu-governor", Name: "CPU governor", Classification: types.StatusApplied},
			{KnobID: "threadirqs", Name: "Threaded IRQs", Classification: types.StatusPendingReboot,
				Detail: "in boot config, not active until reboot"},
		},
		History: []HistoryRow{
			{ID: "2026-03-01T10-00-00.000-ab12cd", Scope: "root",
				CreatedAt: time.Now().Add(-time.Hour), Knobs: []string{"cpu-governor"},
				Backups: 1, Effects: 2},
		},
		Pending: []PendingRow{
			{TxnID: "2026-03-01T10-00-00.000-ab12cd", Kind: "file",
				Target: "/etc/security/limits.d/audio.conf", Detail: "delete", Present: true},
		},
	}
}

func TestRegistryGet(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"table", "plain", "json", "yaml"} {
		f, err := Get(name)
		require.NoError(t, err, "formatter %q", name)
		assert.NotNil(t, f)
	}

	_, err := Get("xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xml")
	assert.Contains(t, err.Error(), "table", "the error names the available formats")
}

func TestNames(t *testing.T) {
	t.Parallel()

	names := Names()
	assert.Contains(t, names, "table")
	assert.Contains(t, names, "plain")
	assert.Contains(t, names, "json")
	assert.Contains(t, names, "yaml")
	assert.IsIncreasing(t, names)
}

func TestTableFormat(t *testing.T) {
	t.Parallel()

	f, err := Get("table")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, f.Format(&buf, sampleReport()))

	out := buf.String()
	assert.Contains(t, out, "KNOB")
	assert.Contains(t, out, "cpu-governor")
	assert.Contains(t, out, "pending_reboot")
	assert.Contains(t, out, "/etc/security/limits.d/audio.conf")
}

func TestTableFormatRestore(t *testing.T) {
	t.Parallel()

	f, err := Get("table")
	require.NoError(t, err)

	var buf bytes.Buffer
	report := &Report{
		Restore: &engine.RestoreResult{
			Outcome:       engine.OutcomePartial,
			Reverted:      []string{"/etc/default/grub"},
			Failed:        []engine.RestoreFailure{{Target: "/sys/kernel/mm/x", Error: "no such file"}},
			NotReversible: []string{"audio"},
			Caveats:       []string{"bootloader regeneration failed: exit 1"},
		},
	}
	require.NoError(t, f.Format(&buf, report))

	out := buf.String()
	assert.Contains(t, out, "partially_restored")
	assert.Contains(t, out, "not reversible")
	assert.Contains(t, out, "caveat")
}

func TestPlainFormat(t *testing.T) {
	t.Parallel()

	f, err := Get("plain")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, f.Format(&buf, sampleReport()))
	assert.Contains(t, buf.String(), "cpu-governor applied\n")
}

func TestJSONFormat(t *testing.T) {
	t.Parallel()

	f, err := Get("json")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, f.Format(&buf, sampleReport()))

	var decoded Report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded.Statuses, 2)
	assert.Equal(t, "cpu-governor", decoded.Statuses[0].KnobID)
}

func TestYAMLFormat(t *testing.T) {
	t.Parallel()

	f, err := Get("yaml")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, f.Format(&buf, sampleReport()))
	assert.Contains(t, buf.String(), "knob_id: cpu-governor")
}
