package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"comfyclient/artifacts"
	"comfyclient/comfyapi"
	"comfyclient/ledger"
)

// printHeader prints a section header.
func printHeader(w io.Writer, title string) {
	headerColor := color.New(color.FgCyan, color.Bold)
	headerColor.Fprintf(w, "━━━ %s ━━━\n", title)
}

// printGeneration prints the artifacts saved for one job.
func printGeneration(w io.Writer, handle comfyapi.JobHandle, stored []artifacts.StoredArtifact, elapsed time.Duration) {
	printHeader(w, "Prompt "+handle.PromptID)

	dim := color.New(color.FgHiBlack)
	ok := color.New(color.FgGreen)

	if len(stored) == 0 {
		dim.Fprintln(w, "  ○ no images produced")
	}
	for _, a := range stored {
		ok.Fprintf(w, "  ✓ %s", a.Path)
		dim.Fprintf(w, " - node %s, %s", a.NodeID, humanize.IBytes(uint64(a.Size)))
		if a.Format != "" {
			dim.Fprintf(w, ", %s %dx%d", a.Format, a.Width, a.Height)
		}
		fmt.Fprintln(w)
		dim.Fprintf(w, "    └─ %s\n", a.Digest)
	}

	summary := color.New(color.FgGreen, color.Bold)
	summary.Fprintf(w, "━━━ %d images ", len(stored))
	if handle.Number > 0 {
		dim.Fprintf(w, "(queue #%d, %v)", handle.Number, elapsed.Round(time.Millisecond))
	} else {
		dim.Fprintf(w, "(%v)", elapsed.Round(time.Millisecond))
	}
	summary.Fprintln(w, " ━━━")
}

// printUpload prints where the server stored an uploaded file.
func printUpload(w io.Writer, result *comfyapi.UploadImageResult) {
	ok := color.New(color.FgGreen)
	dim := color.New(color.FgHiBlack)

	ok.Fprintf(w, "✓ uploaded %s", result.Name)
	if result.Subfolder != "" {
		dim.Fprintf(w, " (subfolder %s)", result.Subfolder)
	}
	dim.Fprintf(w, " [%s]\n", result.Type)
}

// statusColor picks the color for a ledger job status.
func statusColor(status string) *color.Color {
	switch status {
	case ledger.StatusCompleted:
		return color.New(color.FgGreen)
	case ledger.StatusFailed:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgYellow)
	}
}

// jobCount is the number of recorded jobs in one status.
type jobCount struct {
	status string
	count  int64
}

// printJobs prints per-status totals and recent ledger entries, newest
// first.
func printJobs(w io.Writer, counts []jobCount, jobs []ledger.Job, now time.Time) {
	printHeader(w, "Jobs")
	dim := color.New(color.FgHiBlack)

	if len(counts) > 0 {
		fmt.Fprint(w, " ")
		for i, c := range counts {
			if i > 0 {
				dim.Fprint(w, " ·")
			}
			fmt.Fprint(w, " ")
			statusColor(c.status).Fprintf(w, "%d %s", c.count, c.status)
		}
		fmt.Fprintln(w)
	}

	if len(jobs) == 0 {
		dim.Fprintln(w, "  ○ no jobs recorded")
		return
	}
	for _, job := range jobs {
		statusColor(job.Status).Fprintf(w, "  %-9s", job.Status)
		fmt.Fprintf(w, " %s", job.PromptID)
		dim.Fprintf(w, " - %s", humanize.RelTime(job.SubmittedAt, now, "ago", "from now"))
		if job.ErrorMessage != "" {
			dim.Fprintf(w, " - %s", job.ErrorMessage)
		}
		fmt.Fprintln(w)
	}
}

// printJob prints one ledger entry with its artifacts.
func printJob(w io.Writer, job *ledger.Job, records []ledger.ArtifactRecord) {
	printHeader(w, "Job "+job.PromptID)
	dim := color.New(color.FgHiBlack)

	fmt.Fprint(w, "  status:    ")
	statusColor(job.Status).Fprintln(w, job.Status)
	fmt.Fprintf(w, "  client:    %s\n", job.ClientID)
	fmt.Fprintf(w, "  queue:     #%d\n", job.Number)
	fmt.Fprintf(w, "  submitted: %s\n", job.SubmittedAt.Format(time.RFC3339))
	if !job.CompletedAt.IsZero() {
		fmt.Fprintf(w, "  finished:  %s\n", job.CompletedAt.Format(time.RFC3339))
	}
	if job.ErrorMessage != "" {
		color.New(color.FgRed).Fprintf(w, "  error:     %s\n", job.ErrorMessage)
	}

	for _, rec := range records {
		fmt.Fprintf(w, "  • %s", rec.Path)
		dim.Fprintf(w, " - node %s, %s, %s\n", rec.NodeID, humanize.IBytes(uint64(rec.SizeBytes)), rec.Digest)
	}
}
