package history

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/sprucehealth/dialtone/model"
)

// ExportFilename is the download name for a history export.
const ExportFilename = "call-history.csv"

var exportHeader = []string{"sid", "agent", "to", "from", "status", "startedAt", "endedAt", "durationSec", "message"}

// ExportCSV writes the ledger as CSV in ledger order, newest first. Every
// field is quoted with embedded quotes doubled; newlines inside the
// message are collapsed to spaces. Rows are deterministic for a given
// ledger state.
//
// encoding/csv quotes only when necessary, so the rows are written by
// hand to keep the unconditional quoting stable for downstream parsers.
func (l *Ledger) ExportCSV(w io.Writer) error {
	entries := l.Entries()

	if err := writeRow(w, exportHeader); err != nil {
		return err
	}
	for _, e := range entries {
		if err := writeRow(w, exportFields(e)); err != nil {
			return err
		}
	}
	return nil
}

func exportFields(e model.HistoryEntry) []string {
	endedAt := ""
	if e.EndedAt != nil {
		endedAt = e.EndedAt.UTC().Format(time.RFC3339)
	}
	durationSec := ""
	if e.DurationSec != nil {
		durationSec = strconv.Itoa(*e.DurationSec)
	}
	return []string{
		e.SID,
		e.Agent,
		e.To,
		e.From,
		string(e.Status),
		e.StartedAt.UTC().Format(time.RFC3339),
		endedAt,
		durationSec,
		collapseNewlines(e.Message),
	}
}

func writeRow(w io.Writer, fields []string) error {
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
	}
	if _, err := fmt.Fprintf(w, "%s\r\n", strings.Join(quoted, ",")); err != nil {
		return fmt.Errorf("writing csv row: %w", err)
	}
	return nil
}

func collapseNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return s
}
