package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/handoffhq/handoff/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileDeniesAll(t *testing.T) {
	root := t.TempDir()
	cp, err := Load(root, nil)
	require.NoError(t, err)
	assert.False(t, cp.Enabled)
}

func TestLoad_MalformedFileDeniesAll(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".handoff"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".handoff", "settings.json"), []byte("{not json"), 0o644))

	cp, err := Load(root, nil)
	require.Error(t, err)
	assert.False(t, cp.Enabled)
}

func TestLoad_TolerantJSON5(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".handoff"), 0o755))
	// trailing comma + comment: valid JSON5, invalid strict JSON
	content := `{
		// allow safe reads and low-risk writes
		enabled: true,
		max_risk_level: "low",
		allowed_commands: ["go test"],
		allowed_tools: ["ask_approval"],
		read_file_patterns: ["*.go"],
		write_file_patterns: ["*.md"],
	}`
	require.NoError(t, os.WriteFile(filepath.Join(root, ".handoff", "settings.json"), []byte(content), 0o644))

	cp, err := Load(root, nil)
	require.NoError(t, err)
	assert.True(t, cp.Enabled)
	assert.Equal(t, model.RiskLow, cp.MaxRiskLevel)
	require.Len(t, cp.AllowedCommands, 1)
	assert.True(t, cp.AllowedCommands[0].MatchString("go test"))
}

func TestLoad_DropsCommandsOutsideGlobalAllowlist(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".handoff"), 0o755))
	content := `{
		enabled: true,
		max_risk_level: "high",
		allowed_commands: ["go test", "rm -rf /"],
	}`
	require.NoError(t, os.WriteFile(filepath.Join(root, ".handoff", "settings.json"), []byte(content), 0o644))

	cp, err := Load(root, []string{"go test"})
	require.NoError(t, err)
	require.Len(t, cp.AllowedCommands, 1)
	assert.True(t, cp.AllowedCommands[0].MatchString("go test"))
}

func TestEvaluateFileWrite(t *testing.T) {
	cp := &CompiledPolicy{
		Enabled:           true,
		MaxRiskLevel:      model.RiskHigh,
		WriteFilePatterns: []string{"*.md"},
	}

	d := cp.EvaluateFileWrite("README.md", model.RiskLow)
	assert.True(t, d.AutoApprove)

	d = cp.EvaluateFileWrite("main.go", model.RiskLow)
	assert.False(t, d.AutoApprove)

	d = cp.EvaluateFileWrite("README.md", model.RiskCritical)
	assert.False(t, d.AutoApprove)
}

func TestEvaluateCommand_Disabled(t *testing.T) {
	cp := DenyAll()
	d := cp.EvaluateCommand("go test", model.RiskLow)
	assert.False(t, d.AutoApprove)
}

func TestEvaluateCommand_CriticalAlwaysDenied(t *testing.T) {
	cp := &CompiledPolicy{
		Enabled:         true,
		MaxRiskLevel:    model.RiskCritical,
		AllowedCommands: compileCommandPatterns([]string{"go test"}),
	}

	d := cp.EvaluateCommand("go test", model.RiskCritical)
	assert.False(t, d.AutoApprove)

	d = cp.EvaluateCommand("go test", model.RiskHigh)
	assert.True(t, d.AutoApprove)
}
