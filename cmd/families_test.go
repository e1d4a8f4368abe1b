package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gso-insight/indicator-cli/internal/registry"
)

func TestFormatFamiliesList_DefaultSet(t *testing.T) {
	reg, err := registry.Load("")
	if err != nil {
		t.Fatalf("load embedded families: %v", err)
	}

	var buf bytes.Buffer
	formatFamiliesList(&buf, reg)

	output := buf.String()
	assert.Contains(t, output, "KEY")
	assert.Contains(t, output, "NAME")
	assert.Contains(t, output, "grdp")
	assert.Contains(t, output, "cpi")
}

func TestFamiliesValidateCommand_RequiresFile(t *testing.T) {
	flag := familiesValidateCmd.Flags().Lookup("file")
	assert.NotNil(t, flag, "families validate should have --file flag")
}
