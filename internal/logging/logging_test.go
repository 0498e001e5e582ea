package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewJSONCarriesService(t *testing.T) {
	var buf bytes.Buffer
	log := New("washplan", "debug", "json", &buf)
	log.WithField("project_id", "p1").Debug("hello")
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode: %v (%s)", err, buf.String())
	}
	if entry["service"] != "washplan" || entry["message"] != "hello" || entry["project_id"] != "p1" {
		t.Fatalf("unexpected entry %v", entry)
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatalf("missing ts field")
	}
}

func TestNewUnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New("", "loud", "text", &buf)
	log.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug should be filtered at info level")
	}
	log.Info("shown")
	if buf.Len() == 0 {
		t.Fatalf("info should be written")
	}
}
