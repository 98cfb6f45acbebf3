package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
treasury:
  monthly_burn: 120
  tokens:
    - token: DGOV
      raw_balance: "500000000000000000000"
      decimals: 18
      price_id: dgov
    - token: USDC
      raw_balance: "10000000"
      decimals: 6
      price_id: usd-coin
prices:
  source: static
  static:
    dgov: 1.0
    usd-coin: 1.0
coordination:
  response_timeout: 5s
log:
  level: error
`

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o644))
	t.Setenv("SQLITE_PATH", filepath.Join(dir, "data", "history.db"))
	t.Setenv("TRANSPORT_KIND", "memory")
	t.Setenv("PRICE_SOURCE", "static")

	var out, logs bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&logs)
	root.SetArgs(append(args, "--config", path))
	err := root.Execute()
	return out.String(), err
}

func TestAnalyzeCmd_PrintsProposal(t *testing.T) {
	out, err := runCLI(t, "analyze")
	require.NoError(t, err)
	assert.Contains(t, out, "TVL: $510.00")
	assert.Contains(t, out, "Breached: true")
	assert.Contains(t, out, "# Treasury Rebalancing Proposal")
	assert.FileExists(t, filepath.Join(filepath.Dir(os.Getenv("SQLITE_PATH")), "history.db"))
}

func TestAnalyzeCmd_JSON(t *testing.T) {
	out, err := runCLI(t, "analyze", "--json")
	require.NoError(t, err)

	var doc struct {
		Title   string        `json:"title"`
		Actions []interface{} `json:"actions"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "Treasury Rebalancing Proposal", doc.Title)
	assert.NotEmpty(t, doc.Actions)
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"run", "analyze", "relay"})
}
