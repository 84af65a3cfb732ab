package mediaconvert

import (
	"fmt"
	"math"
)

// Segment is one clipped portion of the source recording, converted by
// its own MediaConvert job.
type Segment struct {
	Part            int
	TotalParts      int
	StartSeconds    float64
	DurationSeconds float64
}

// Plan describes the conversion jobs for one recording and the audio
// objects they will produce, in part order.
type Plan struct {
	Segments   []Segment
	OutputKeys []string
}

// Chunked reports whether the recording is split into parts.
func (p Plan) Chunked() bool { return len(p.Segments) > 1 }

// NameModifier returns the output name suffix for a segment index.
func (p Plan) NameModifier(index int) string {
	if !p.Chunked() {
		return "_converted"
	}
	return fmt.Sprintf("_part%02d", p.Segments[index].Part)
}

// PlanConversion computes the job layout for a recording. Recordings no
// longer than chunkHours convert as a single job; longer recordings are
// split into equal chunkHours slices with a short final remainder. An
// unknown duration (zero) falls back to a single job.
func PlanConversion(baseName string, durationSeconds float64, chunkHours int, audioPrefix string) Plan {
	chunkSeconds := float64(chunkHours) * 3600
	if durationSeconds <= 0 || durationSeconds <= chunkSeconds {
		return Plan{
			Segments:   []Segment{{Part: 1, TotalParts: 1, DurationSeconds: durationSeconds}},
			OutputKeys: []string{fmt.Sprintf("%s%s_converted.mp3", audioPrefix, baseName)},
		}
	}

	total := int(math.Ceil(durationSeconds / chunkSeconds))
	plan := Plan{
		Segments:   make([]Segment, 0, total),
		OutputKeys: make([]string, 0, total),
	}
	for part := 1; part <= total; part++ {
		start := float64(part-1) * chunkSeconds
		duration := math.Min(chunkSeconds, durationSeconds-start)
		plan.Segments = append(plan.Segments, Segment{
			Part:            part,
			TotalParts:      total,
			StartSeconds:    start,
			DurationSeconds: duration,
		})
		plan.OutputKeys = append(plan.OutputKeys, fmt.Sprintf("%s%s_part%02d.mp3", audioPrefix, baseName, part))
	}
	return plan
}

// timecode renders whole seconds as the HH:MM:SS:FF form MediaConvert
// expects for input clippings.
func timecode(seconds float64) string {
	whole := int(seconds)
	return fmt.Sprintf("%02d:%02d:%02d:00", whole/3600, whole%3600/60, whole%60)
}
