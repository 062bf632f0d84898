package chartparse

import (
	"strings"
	"testing"

	"github.com/jManniCode/finans-ai/internal/models"
)

func TestExtractValidBarChart(t *testing.T) {
	text := "Revenue grew from 100 to 150 [Källa: report.pdf | Sida 2].\n" +
		"```json\n{\"type\": \"bar\", \"title\": \"Revenue\", \"x_label\": \"Year\", \"y_label\": \"MSEK\", " +
		"\"data\": [{\"label\": \"2023\", \"value\": 100}, {\"label\": \"2024\", \"value\": 150}]}\n```"

	charts, cleaned := Extract(text)
	if len(charts) != 1 {
		t.Fatalf("expected 1 chart, got %d", len(charts))
	}
	c := charts[0]
	if c.Kind != models.ChartKindBar || c.Title != "Revenue" {
		t.Errorf("unexpected chart: %+v", c)
	}
	if len(c.Points) != 2 || c.Points[0].Value != 100 || c.Points[1].Value != 150 {
		t.Errorf("unexpected points: %+v", c.Points)
	}
	if strings.Contains(cleaned, "```") {
		t.Errorf("chart block not stripped from answer: %q", cleaned)
	}
	if !strings.Contains(cleaned, "Revenue grew") {
		t.Errorf("prose lost: %q", cleaned)
	}
}

func TestExtractNonNumericValueDropped(t *testing.T) {
	text := "Here are the figures.\n" +
		"```json\n{\"type\": \"bar\", \"title\": \"Revenue\", \"data\": [{\"label\": \"2023\", \"value\": \"N/A\"}]}\n```"

	charts, cleaned := Extract(text)
	if len(charts) != 0 {
		t.Fatalf("chart with non-numeric value must be dropped, got %d", len(charts))
	}
	if cleaned == "" {
		t.Fatal("textual answer must survive a dropped chart")
	}
}

func TestExtractUnknownKindDropped(t *testing.T) {
	text := "```json\n{\"type\": \"pie\", \"title\": \"Shares\", \"data\": [{\"label\": \"A\", \"value\": 1}]}\n```"
	charts, _ := Extract(text)
	if len(charts) != 0 {
		t.Fatalf("unknown chart kind must be dropped, got %+v", charts)
	}
}

func TestExtractMissingTitleDropped(t *testing.T) {
	text := "```json\n{\"type\": \"line\", \"data\": [{\"label\": \"A\", \"value\": 1}]}\n```"
	charts, _ := Extract(text)
	if len(charts) != 0 {
		t.Fatalf("chart without title must be dropped, got %+v", charts)
	}
}

func TestExtractMixedMagnitudesDropped(t *testing.T) {
	// 2 vs 4,000,000 in one series suggests mixed units.
	text := "```json\n{\"type\": \"line\", \"title\": \"Revenue\", " +
		"\"data\": [{\"label\": \"2023\", \"value\": 2}, {\"label\": \"2024\", \"value\": 4000000}]}\n```"
	charts, _ := Extract(text)
	if len(charts) != 0 {
		t.Fatalf("mixed-magnitude chart must be dropped, got %+v", charts)
	}
}

func TestExtractZeroValuesAllowed(t *testing.T) {
	text := "```json\n{\"type\": \"bar\", \"title\": \"Result\", " +
		"\"data\": [{\"label\": \"2023\", \"value\": 0}, {\"label\": \"2024\", \"value\": 120}]}\n```"
	charts, _ := Extract(text)
	if len(charts) != 1 {
		t.Fatalf("zero values must not trip the magnitude check, got %d charts", len(charts))
	}
}

func TestExtractMalformedJSONLeavesTextUnchanged(t *testing.T) {
	text := "Some prose.\n```json\n{\"type\": \"bar\", \"title\": }\n```"
	charts, cleaned := Extract(text)
	if len(charts) != 0 {
		t.Fatal("malformed block must yield no charts")
	}
	if !strings.Contains(cleaned, "```json") {
		t.Error("unparseable block should remain in the answer text")
	}
}

func TestExtractNoBlock(t *testing.T) {
	charts, cleaned := Extract("Just an answer with no chart.")
	if len(charts) != 0 || cleaned != "Just an answer with no chart." {
		t.Fatalf("got charts=%v cleaned=%q", charts, cleaned)
	}
}

func TestExtractMultipleBlocks(t *testing.T) {
	block := "```json\n{\"type\": \"bar\", \"title\": \"%s\", \"data\": [{\"label\": \"A\", \"value\": 1}]}\n```"
	text := "First:\n" + strings.Replace(block, "%s", "One", 1) + "\nSecond:\n" + strings.Replace(block, "%s", "Two", 1)
	charts, _ := Extract(text)
	if len(charts) != 2 {
		t.Fatalf("expected 2 charts, got %d", len(charts))
	}
	if charts[0].Title != "One" || charts[1].Title != "Two" {
		t.Errorf("charts out of order: %+v", charts)
	}
}
