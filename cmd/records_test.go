package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gso-insight/indicator-cli/internal/model"
)

func TestFormatRecordsList(t *testing.T) {
	updated := time.Date(2025, 10, 5, 8, 0, 0, 0, time.UTC)
	records := []model.IndicatorRecord{
		{
			Key: model.PeriodKey{Family: "grdp", Province: "Hà Nội", Year: 2025, Quarter: 3},
			Fields: map[string]model.FieldValue{
				"actual_value": model.Num(114792),
				"growth_rate":  model.Num(8.01),
			},
			DataStatus:  model.StatusEstimated,
			LastUpdated: updated,
		},
		{
			Key:         model.PeriodKey{Family: "cpi", Province: "Hà Nội", Year: 2025, Month: 9},
			Fields:      map[string]model.FieldValue{"change_mom": model.Num(0.29)},
			DataStatus:  model.StatusOfficial,
			LastUpdated: updated,
		},
	}

	var buf bytes.Buffer
	formatRecordsList(&buf, records)

	output := buf.String()
	assert.Contains(t, output, "FAMILY")
	assert.Contains(t, output, "grdp")
	assert.Contains(t, output, "Hà Nội")
	assert.Contains(t, output, "Quý 3/2025")
	assert.Contains(t, output, "estimated")
	assert.Contains(t, output, "cpi")
	assert.Contains(t, output, "Tháng 9/2025")
	assert.Contains(t, output, "official")
	assert.Contains(t, output, "2025-10-05")
}

func TestRecordsListCommand_Flags(t *testing.T) {
	for _, name := range []string{"family", "province", "year", "quarter", "month", "status", "annual", "limit", "json"} {
		assert.NotNil(t, recordsListCmd.Flags().Lookup(name), "records list should have --%s flag", name)
	}
}
