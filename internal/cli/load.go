package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/raphaelgruber/kbingest/internal/models"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var loadEnqueue bool

var loadCmd = &cobra.Command{
	Use:   "load <file.yaml>",
	Short: "Store a transcript version from a YAML file",
	Long: `Write a finalized transcript version and its segments to the store.
Transcripts normally arrive from the upstream transcription service; this
command is for backfills and local testing.

File format:
  id: meeting-42-v3
  source_id: meeting-42
  metadata:
    title: Weekly sync
  segments:
    - text: "Let's start with the roadmap."
      start: 0
      end: 4.2

Examples:
  kbingest load meeting.yaml
  kbingest load meeting.yaml --enqueue`,
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{"local": "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read transcript: %w", err)
		}
		v, segs, err := parseTranscriptFile(data)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if err := application.Transcripts.SaveTranscript(ctx, v, segs); err != nil {
			return fmt.Errorf("save transcript: %w", err)
		}
		fmt.Printf("Stored version %s (%d segments)\n", v.ID, len(segs))

		if !loadEnqueue {
			return nil
		}
		job, err := jobs.Enqueue(ctx, models.JobSubmission{
			SourceID:    v.SourceID,
			VersionID:   v.ID,
			SubmittedBy: "load",
		})
		if err != nil {
			return fmt.Errorf("enqueue: %w", err)
		}
		fmt.Printf("Queued job %s\n", job.ID)
		return nil
	},
}

func init() {
	loadCmd.Flags().BoolVarP(&loadEnqueue, "enqueue", "e", false, "queue an ingestion job for the version")
}

type transcriptFile struct {
	ID       string         `yaml:"id"`
	SourceID string         `yaml:"source_id"`
	Text     string         `yaml:"text"`
	Metadata map[string]any `yaml:"metadata"`
	Segments []struct {
		Sequence int     `yaml:"sequence"`
		Text     string  `yaml:"text"`
		Start    float64 `yaml:"start"`
		End      float64 `yaml:"end"`
	} `yaml:"segments"`
}

// parseTranscriptFile decodes a transcript file. Segments without a
// sequence number are numbered by position, and the version text defaults
// to the segment texts joined by newlines.
func parseTranscriptFile(data []byte) (models.TranscriptVersion, []models.TranscriptSegment, error) {
	var f transcriptFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return models.TranscriptVersion{}, nil, fmt.Errorf("parse transcript: %w", err)
	}
	if f.ID == "" || f.SourceID == "" {
		return models.TranscriptVersion{}, nil, fmt.Errorf("parse transcript: id and source_id are required")
	}

	segs := make([]models.TranscriptSegment, len(f.Segments))
	seen := make(map[int]bool, len(f.Segments))
	texts := make([]string, len(f.Segments))
	for i, s := range f.Segments {
		seq := s.Sequence
		if seq == 0 {
			seq = i + 1
		}
		if seen[seq] {
			return models.TranscriptVersion{}, nil, fmt.Errorf("parse transcript: duplicate sequence %d", seq)
		}
		seen[seq] = true
		segs[i] = models.TranscriptSegment{
			ID:             fmt.Sprintf("%s-%d", f.ID, seq),
			VersionID:      f.ID,
			SequenceNumber: seq,
			Text:           s.Text,
			StartTime:      s.Start,
			EndTime:        s.End,
		}
		texts[i] = s.Text
	}

	text := f.Text
	if text == "" {
		text = strings.Join(texts, "\n")
	}
	return models.TranscriptVersion{
		ID:             f.ID,
		SourceID:       f.SourceID,
		TranscriptText: text,
		Metadata:       f.Metadata,
	}, segs, nil
}
