package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/ayusman/chromatape/internal/store"
)

// printSessions writes the limit most recent sessions as a table.
func printSessions(w io.Writer, st *store.Store, limit int) error {
	sessions, err := st.Sessions().List(limit)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tMODE\tSTATUS\tTOKENS\tPROGRAM")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			s.ID,
			s.StartedAt.Local().Format(time.DateTime),
			s.Mode,
			s.Status,
			s.Tokens,
			summarize(s),
		)
	}
	return tw.Flush()
}

const maxProgramColumn = 40

func summarize(s *store.Session) string {
	if s.Status == store.StatusFailed {
		return "error: " + s.Error
	}
	if len(s.Program) > maxProgramColumn {
		return s.Program[:maxProgramColumn-3] + "..."
	}
	return s.Program
}
