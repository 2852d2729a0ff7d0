package analyze

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"udpmeter/pkg/packet"
)

// ReadRecords parses tab-separated measurement output back into
// records. The first line must be a header naming at least the
// columns of packet.TSVHeader; column order is taken from it, extra
// columns are ignored.
func ReadRecords(r io.Reader) ([]packet.Record, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, name := range []string{"source", "sequence", "size", "timestamp", "receive_time"} {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}

	var records []packet.Record
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rec, err := parseRow(row, col)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseRow(row []string, col map[string]int) (packet.Record, error) {
	var rec packet.Record
	get := func(name string) (string, error) {
		i := col[name]
		if i >= len(row) {
			return "", fmt.Errorf("missing field %q", name)
		}
		return row[i], nil
	}

	var err error
	if rec.Source, err = get("source"); err != nil {
		return rec, err
	}

	s, err := get("sequence")
	if err != nil {
		return rec, err
	}
	if rec.Sequence, err = strconv.ParseUint(s, 10, 64); err != nil {
		return rec, fmt.Errorf("parse sequence: %w", err)
	}

	if s, err = get("size"); err != nil {
		return rec, err
	}
	if rec.Size, err = strconv.Atoi(s); err != nil {
		return rec, fmt.Errorf("parse size: %w", err)
	}

	if s, err = get("timestamp"); err != nil {
		return rec, err
	}
	if rec.Timestamp, err = packet.ParseTimestamp(s); err != nil {
		return rec, err
	}

	if s, err = get("receive_time"); err != nil {
		return rec, err
	}
	if rec.ReceiveTime, err = packet.ParseTimestamp(s); err != nil {
		return rec, err
	}
	return rec, nil
}
