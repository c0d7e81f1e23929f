package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/leapstack-labs/fitetl/internal/cli/output"
	"github.com/leapstack-labs/fitetl/internal/load"
	"github.com/leapstack-labs/fitetl/internal/state"
)

// RunReport is the JSON output describing one pipeline run.
type RunReport struct {
	Run          *state.Run        `json:"run"`
	Stages       []*state.StageRun `json:"stages"`
	Outputs      []load.Manifest   `json:"outputs,omitempty"`
	ManifestPath string            `json:"manifest_path,omitempty"`
}

// renderRunReport writes rep in the renderer's effective mode.
func renderRunReport(r *output.Renderer, rep RunReport) error {
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(rep)
	}

	run := rep.Run
	title := "Run " + run.ID
	if r.EffectiveMode() == output.ModeText {
		r.Println(r.Styles().Header1.Render(title))
	} else {
		r.Println(output.FormatHeader(1, title))
	}

	status := string(run.Status)
	if r.EffectiveMode() == output.ModeText {
		switch run.Status {
		case state.RunStatusCompleted:
			status = r.Styles().Success.Render(status)
		case state.RunStatusFailed:
			status = r.Styles().Error.Render(status)
		}
	}
	r.Println(output.FormatKeyValue("Environment", run.Environment))
	r.Println(output.FormatKeyValue("Status", status))
	r.Println(output.FormatKeyValue("Rows", fmt.Sprintf("%d in, %d out", run.RowsIn, run.RowsOut)))
	r.Println(output.FormatKeyValue("Duration", run.Duration().Round(time.Millisecond).String()))
	if run.Error != "" {
		r.Println(output.FormatKeyValue("Error", run.Error))
	}

	if len(rep.Stages) > 0 {
		r.Println()
		r.Println(output.FormatHeader(2, "Stages"))
		for _, s := range rep.Stages {
			detail := fmt.Sprintf("%d -> %d rows, %s", s.RowsIn, s.RowsOut, s.Duration.Round(time.Millisecond))
			if s.Error != "" {
				detail = s.Error
			}
			r.StatusLine(s.Stage, string(s.Status), detail)
		}
	}

	if len(rep.Outputs) > 0 {
		r.Println()
		r.Println(output.FormatHeader(2, "Outputs"))
		r.Table([]string{"Path", "Format", "Compression", "Rows", "Bytes", "SHA-256"}, manifestRows(rep.Outputs))
	}
	if rep.ManifestPath != "" {
		r.Println()
		r.Println(output.FormatKeyValue("Manifest", rep.ManifestPath))
	}
	return nil
}

func manifestRows(ms []load.Manifest) [][]string {
	rows := make([][]string, 0, len(ms))
	for _, m := range ms {
		rows = append(rows, []string{
			m.Path,
			string(m.Format),
			string(m.Compression),
			strconv.Itoa(m.Rows),
			strconv.FormatInt(m.Bytes, 10),
			shortHash(m.SHA256),
		})
	}
	return rows
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
