package tracing

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func readRecords(t *testing.T, path string) []SpanRecord {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var records []SpanRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec SpanRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	require.NoError(t, scanner.Err())
	return records
}

func TestFileExporter_WritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "traces.jsonl")
	exporter, err := NewFileExporter(path)
	require.NoError(t, err)

	start := time.Now()
	stubs := []tracetest.SpanStub{
		{
			Name:       "enforcement.block",
			StartTime:  start,
			EndTime:    start.Add(150 * time.Millisecond),
			Attributes: []attribute.KeyValue{attribute.String(AttrSessionID, "s-1")},
			Status:     sdktrace.Status{Code: codes.Error, Description: "timeout"},
			Events:     []sdktrace.Event{{Name: EventRetry, Time: start}},
		},
		{
			Name:      "command.process.stop",
			StartTime: start,
			EndTime:   start.Add(time.Millisecond),
			Status:    sdktrace.Status{Code: codes.Ok},
		},
	}
	spans := []sdktrace.ReadOnlySpan{stubs[0].Snapshot(), stubs[1].Snapshot()}
	require.NoError(t, exporter.ExportSpans(context.Background(), spans))
	require.NoError(t, exporter.ExportSpans(context.Background(), nil))
	require.NoError(t, exporter.Shutdown(context.Background()))

	records := readRecords(t, path)
	require.Len(t, records, 2)

	require.Equal(t, "enforcement.block", records[0].Name)
	require.Equal(t, "ERROR", records[0].Status)
	require.Equal(t, "timeout", records[0].StatusMsg)
	require.Equal(t, "s-1", records[0].Attributes[AttrSessionID])
	require.Equal(t, []string{EventRetry}, records[0].Events)
	require.InDelta(t, 150.0, records[0].DurationMs, 0.001)

	require.Equal(t, "OK", records[1].Status)
	require.Empty(t, records[1].Attributes)
}

func TestFileExporter_ShutdownTwiceAndExportAfter(t *testing.T) {
	exporter, err := NewFileExporter(filepath.Join(t.TempDir(), "t.jsonl"))
	require.NoError(t, err)

	require.NoError(t, exporter.Shutdown(context.Background()))
	require.NoError(t, exporter.Shutdown(context.Background()))

	stub := tracetest.SpanStub{Name: "late"}
	require.Error(t, exporter.ExportSpans(context.Background(), []sdktrace.ReadOnlySpan{stub.Snapshot()}))
}
