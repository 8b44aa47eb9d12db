package main

import (
	"encoding/json"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jo-hoe/reelcaster/internal/jobs"
	"github.com/jo-hoe/reelcaster/internal/pipeline"
	"github.com/jo-hoe/reelcaster/internal/progress"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// resultRows lists the non-empty fields of a task result.
func resultRows(task jobs.Task, res pipeline.Result) [][]string {
	rows := [][]string{
		{"Run", task.ID},
		{"Task", string(task.Kind)},
		{"Outcome", string(res.Outcome)},
	}
	add := func(name, value string) {
		if value != "" && value != "0" {
			rows = append(rows, []string{name, value})
		}
	}
	add("Part", strconv.Itoa(res.Part))
	add("File", res.FileID)
	add("Container", res.ContainerID)
	add("Status", res.Status)
	add("Media", res.MediaID)
	add("Episode", strconv.Itoa(res.Episode))
	add("Segments", strconv.Itoa(res.Segments))
	if res.Record.Stream != "" {
		rows = append(rows,
			[]string{"Upload cursor", strconv.Itoa(res.Record.UploadCursor)},
			[]string{"Pending", strconv.Itoa(len(res.Record.PendingPublish))},
		)
	}
	return rows
}

func recordRows(rec progress.Record, now time.Time) [][]string {
	return [][]string{
		{"Stream", rec.Stream},
		{"Episode", strconv.Itoa(rec.EpisodeCursor) + " of " + strconv.Itoa(len(rec.Sources))},
		{"Reel cursor", strconv.Itoa(rec.ReelCursor)},
		{"Upload cursor", strconv.Itoa(rec.UploadCursor)},
		{"Pending", strconv.Itoa(len(rec.PendingPublish))},
		{"Updated", age(rec.UpdatedAt, now)},
		{"Version", strconv.FormatInt(rec.Version, 10)},
	}
}

func pendingRows(rec progress.Record, now time.Time) [][]string {
	rows := make([][]string, 0, len(rec.PendingPublish))
	for i, it := range rec.PendingPublish {
		part := "-"
		if it.Part > 0 {
			part = strconv.Itoa(it.Part)
		}
		rows = append(rows, []string{strconv.Itoa(i + 1), part, it.FileID, it.ContainerID, age(it.CreatedAt, now)})
	}
	return rows
}

func runRows(runs []jobs.Run, now time.Time) [][]string {
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		took := "-"
		if r.StartedAt != nil && r.CompletedAt != nil {
			took = r.CompletedAt.Sub(*r.StartedAt).Round(time.Millisecond).String()
		}
		outcome := r.Outcome
		if outcome == "" {
			outcome = "-"
		}
		rows = append(rows, []string{r.ID, string(r.Kind), string(r.Trigger), string(r.Stage), outcome, age(r.CreatedAt, now), took})
	}
	return rows
}

func age(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}
