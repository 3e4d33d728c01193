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

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestValidateBuiltInCatalog(t *testing.T) {
	out, err := execute(t, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "digital-wallet-onboarding")
	assert.Contains(t, out, "ok: 4 flows")
}

func TestValidateRejectsBrokenCatalog(t *testing.T) {
	path := writeFile(t, "flows.yaml", `
flows:
  - key: broken
    category: test
    fields:
      name: string
    rules:
      - kind: fieldTrue
        redirectTo: details
`)
	_, err := execute(t, "validate", "--catalog", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestResolve(t *testing.T) {
	doc := writeFile(t, "doc.json", `{"applicantRelationship": "self", "childFullName": "Ada"}`)

	out, err := execute(t, "resolve", "--flow", "order-birth-certificate", doc)
	require.NoError(t, err)

	var res resolveOutput
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "birth-details", res.NextStep)
	assert.Equal(t, "birth-details", res.Rule)
	assert.False(t, res.Done)
}

func TestResolveNeedsAKnownFlow(t *testing.T) {
	doc := writeFile(t, "doc.json", `{}`)
	_, err := execute(t, "resolve", "--flow", "apply-for-moon", doc)
	assert.Error(t, err)
}
