package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldHelpers(t *testing.T) {
	tests := []struct {
		attr slog.Attr
		key  string
		val  string
	}{
		{Service("fleetpulse"), FieldService, "fleetpulse"},
		{MachineID("M1"), FieldMachineID, "M1"},
		{PolicyID("P1"), FieldPolicyID, "P1"},
		{AlertID("A1"), FieldAlertID, "A1"},
		{Username("admin"), FieldUsername, "admin"},
		{IP("10.0.0.1"), FieldIP, "10.0.0.1"},
		{Error(errors.New("boom")), FieldError, "boom"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.key, tt.attr.Key)
		assert.Equal(t, tt.val, tt.attr.Value.String())
	}
}

func TestServiceAttrStampsEveryRecord(t *testing.T) {
	var buf bytes.Buffer
	logger := &Logger{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	logger = logger.With(Service("fleetpulse"))

	logger.Info("one thing")
	logger.Error("another", Error(errors.New("boom")))

	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var record map[string]any
		require.NoError(t, json.Unmarshal(line, &record))
		assert.Equal(t, "fleetpulse", record[FieldService])
	}
}
