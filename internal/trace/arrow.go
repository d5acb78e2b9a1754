package trace

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

// arrowSchema is the long-format layout for analysis tooling: one row per
// (round, entity, attribute) observation. Environment values appear with
// kind "environment" and an empty agent id suffix path in the attribute
// column.
var arrowSchema = arrow.NewSchema([]arrow.Field{
	{Name: "round", Type: arrow.PrimitiveTypes.Int64},
	{Name: "agent_id", Type: arrow.BinaryTypes.String},
	{Name: "kind", Type: arrow.BinaryTypes.String},
	{Name: "area", Type: arrow.BinaryTypes.String},
	{Name: "attribute", Type: arrow.BinaryTypes.String},
	{Name: "value", Type: arrow.PrimitiveTypes.Float64},
}, nil)

// ExportArrow writes the run's attribute time series as an Arrow IPC
// stream, one record batch per round. Rows within a batch are ordered by
// agent then attribute name so exports of the same run are byte-identical.
func ExportArrow(w io.Writer, run Run) error {
	pool := memory.DefaultAllocator
	sw := ipc.NewWriter(w, ipc.WithSchema(arrowSchema), ipc.WithAllocator(pool))

	for _, snap := range run.Rounds {
		rec := buildRoundRecord(pool, snap)
		err := sw.Write(rec)
		rec.Release()
		if err != nil {
			sw.Close()
			return fmt.Errorf("writing round %d: %w", snap.Round, err)
		}
	}
	return sw.Close()
}

// ExportArrowFile writes the export to path, truncating an existing file.
func ExportArrowFile(path string, run Run) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	if err := ExportArrow(f, run); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func buildRoundRecord(pool memory.Allocator, snap RoundSnapshot) arrow.Record {
	b := array.NewRecordBuilder(pool, arrowSchema)
	defer b.Release()

	rounds := b.Field(0).(*array.Int64Builder)
	ids := b.Field(1).(*array.StringBuilder)
	kinds := b.Field(2).(*array.StringBuilder)
	areas := b.Field(3).(*array.StringBuilder)
	attrs := b.Field(4).(*array.StringBuilder)
	values := b.Field(5).(*array.Float64Builder)

	appendRow := func(id, kind, area, attr string, v float64) {
		rounds.Append(int64(snap.Round))
		ids.Append(id)
		kinds.Append(kind)
		areas.Append(area)
		attrs.Append(attr)
		values.Append(v)
	}

	for _, a := range snap.Agents {
		names := make([]string, 0, len(a.Attributes))
		for name := range a.Attributes {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			appendRow(a.ID, string(a.Kind), string(a.Area), name, a.Attributes[name])
		}
	}

	env := snap.Environment
	appendRow("", "environment", "", "service_availability", env.ServiceAvailability)
	appendRow("", "environment", "", "system_load", env.SystemLoad)
	for _, areaRows := range []struct {
		prefix string
		m      map[string]float64
	}{
		{"digital_infrastructure", areaValues(env.DigitalInfrastructure)},
		{"physical_infrastructure", areaValues(env.PhysicalInfrastructure)},
		{"service_quality", areaValues(env.ServiceQuality)},
	} {
		for _, area := range sortedStringKeys(areaRows.m) {
			appendRow("", "environment", area, areaRows.prefix, areaRows.m[area])
		}
	}
	for _, name := range sortedStringKeys(snap.Environment.PolicyState) {
		appendRow("", "environment", "", "policy_state."+name, snap.Environment.PolicyState[name])
	}

	return b.NewRecord()
}

func areaValues[K ~string](m map[K]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[string(k)] = v
	}
	return out
}

func sortedStringKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
