// Package chartparse extracts the fenced JSON chart blocks the prompt
// contract asks the model to append to its answers. The model is an
// untrusted text generator, so parsing fails closed: anything that does
// not match the schema exactly is dropped and never crashes a turn.
package chartparse

import (
	"encoding/json"
	"math"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/jManniCode/finans-ai/internal/models"
)

// magnitudeSpread is the largest allowed ratio between the biggest and
// smallest non-zero absolute value in one series. A larger spread almost
// always means mixed units (millions next to thousands), so the payload
// is rejected rather than rendered misleadingly.
const magnitudeSpread = 1000.0

var blockRe = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")

// rawChart mirrors the JSON contract. Values decode as json.Number so a
// quoted "N/A" fails instead of being coerced.
type rawChart struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	XLabel string `json:"x_label"`
	YLabel string `json:"y_label"`
	Data   []struct {
		Label string      `json:"label"`
		Value json.Number `json:"value"`
	} `json:"data"`
}

// Extract returns the validated chart payloads found in text, and text
// with every recognized chart block removed. Blocks that are not valid
// JSON objects are left in the text untouched; blocks that parse but fail
// validation are stripped and dropped so a broken visualization never
// reaches the caller.
func Extract(text string) ([]models.ChartPayload, string) {
	var payloads []models.ChartPayload
	cleaned := text

	for _, match := range blockRe.FindAllStringSubmatch(text, -1) {
		var raw rawChart
		if err := json.Unmarshal([]byte(match[1]), &raw); err != nil {
			log.Debug().Err(err).Msg("Ignoring malformed chart block")
			continue
		}
		cleaned = strings.Replace(cleaned, match[0], "", 1)

		payload, ok := validate(raw)
		if !ok {
			continue
		}
		payloads = append(payloads, payload)
	}

	return payloads, strings.TrimSpace(cleaned)
}

func validate(raw rawChart) (models.ChartPayload, bool) {
	kind := models.ChartKind(raw.Type)
	if !kind.Valid() {
		log.Debug().Str("type", raw.Type).Msg("Dropping chart with unknown kind")
		return models.ChartPayload{}, false
	}
	if raw.Title == "" || len(raw.Data) == 0 {
		log.Debug().Msg("Dropping chart with missing title or empty data")
		return models.ChartPayload{}, false
	}

	points := make([]models.ChartPoint, 0, len(raw.Data))
	for _, d := range raw.Data {
		v, err := d.Value.Float64()
		if err != nil || d.Label == "" {
			log.Debug().Str("label", d.Label).Msg("Dropping chart with non-numeric or unlabeled point")
			return models.ChartPayload{}, false
		}
		points = append(points, models.ChartPoint{Label: d.Label, Value: v})
	}

	if mixedMagnitudes(points) {
		log.Debug().Str("title", raw.Title).Msg("Dropping chart with mixed value magnitudes")
		return models.ChartPayload{}, false
	}

	return models.ChartPayload{
		Kind:   kind,
		Title:  raw.Title,
		XLabel: raw.XLabel,
		YLabel: raw.YLabel,
		Points: points,
	}, true
}

// mixedMagnitudes is a best-effort unit-consistency check over the
// non-zero values of a series.
func mixedMagnitudes(points []models.ChartPoint) bool {
	minAbs, maxAbs := math.Inf(1), 0.0
	for _, p := range points {
		abs := math.Abs(p.Value)
		if abs == 0 {
			continue
		}
		if abs < minAbs {
			minAbs = abs
		}
		if abs > maxAbs {
			maxAbs = abs
		}
	}
	if maxAbs == 0 || math.IsInf(minAbs, 1) {
		return false
	}
	return maxAbs/minAbs > magnitudeSpread
}
