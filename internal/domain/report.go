package domain

import "time"

type OutcomeStatus string

const (
	OutcomeStored       OutcomeStatus = "stored"
	OutcomeSkippedShort OutcomeStatus = "skipped_short"
	OutcomeFailedFetch  OutcomeStatus = "failed_fetch"
	OutcomeFailedEmbed  OutcomeStatus = "failed_embed"
	OutcomeFailedStore  OutcomeStatus = "failed_store"
)

type ItemKind string

const (
	ItemChunk ItemKind = "chunk"
	ItemImage ItemKind = "image"
)

// ItemOutcome records what happened to one chunk or image of a document.
type ItemOutcome struct {
	Kind   ItemKind      `json:"kind"`
	Index  int           `json:"index"`
	Ref    string        `json:"ref,omitempty"`
	Status OutcomeStatus `json:"status"`
	Error  string        `json:"error,omitempty"`
}

// DocumentOutcome records the result of ingesting one document.
type DocumentOutcome struct {
	URL          string        `json:"url"`
	Title        string        `json:"title,omitempty"`
	Status       OutcomeStatus `json:"status"`
	ChunksStored int           `json:"chunks_stored"`
	ChunkTotal   int           `json:"chunk_total"`
	ImagesStored int           `json:"images_stored"`
	Items        []ItemOutcome `json:"items,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// IngestReport summarises a batch ingestion run.
type IngestReport struct {
	Documents  []DocumentOutcome `json:"documents"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

// Counts returns how many documents ended in each status.
func (r *IngestReport) Counts() map[OutcomeStatus]int {
	counts := make(map[OutcomeStatus]int)
	for _, d := range r.Documents {
		counts[d.Status]++
	}
	return counts
}

func (r *IngestReport) ChunksStored() int {
	n := 0
	for _, d := range r.Documents {
		n += d.ChunksStored
	}
	return n
}

func (r *IngestReport) ImagesStored() int {
	n := 0
	for _, d := range r.Documents {
		n += d.ImagesStored
	}
	return n
}

// Failures returns one line per failed document or item.
func (r *IngestReport) Failures() []string {
	var out []string
	for _, d := range r.Documents {
		if d.Error != "" {
			out = append(out, d.URL+": "+d.Error)
		}
		for _, it := range d.Items {
			if it.Error != "" {
				ref := it.Ref
				if ref == "" {
					ref = d.URL
				}
				out = append(out, string(it.Kind)+" "+ref+": "+it.Error)
			}
		}
	}
	return out
}
