package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestFormFieldsValue(t *testing.T) {
	f := FormFields{
		Nombre:    "Juan",
		Provincia: "Buenos Aires",
	}

	data, err := f.Value()
	if err != nil {
		t.Fatalf("failed to marshal form fields: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data.([]byte), &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if result["nombre"] != "Juan" {
		t.Errorf("expected nombre=Juan, got %v", result["nombre"])
	}
	if result["provincia"] != "Buenos Aires" {
		t.Errorf("expected provincia=Buenos Aires, got %v", result["provincia"])
	}
}

func TestFormFieldsScan(t *testing.T) {
	var f FormFields
	if err := f.Scan([]byte(`{"nombre": "Ana", "queHizo": "aprendió a nadar"}`)); err != nil {
		t.Fatalf("failed to scan: %v", err)
	}
	if f.Nombre != "Ana" {
		t.Errorf("expected nombre=Ana, got %q", f.Nombre)
	}
	if f.QueHizo != "aprendió a nadar" {
		t.Errorf("unexpected queHizo %q", f.QueHizo)
	}

	if err := f.Scan(nil); err != nil {
		t.Fatalf("scan nil: %v", err)
	}
	if f.Nombre != "" {
		t.Errorf("expected empty form after nil scan, got %+v", f)
	}

	if err := f.Scan(42); err == nil {
		t.Error("expected error scanning an int")
	}
}

func TestJobStatus(t *testing.T) {
	statuses := []JobStatus{
		JobStatusPending,
		JobStatusProcessing,
		JobStatusCompleted,
		JobStatusFailed,
		JobStatusCancelled,
	}

	for _, s := range statuses {
		if !s.Valid() {
			t.Errorf("status %q should be valid", s)
		}
	}
	if JobStatus("running").Valid() {
		t.Error("unknown status should be invalid")
	}

	if !JobStatusCompleted.Terminal() || !JobStatusCancelled.Terminal() {
		t.Error("completed and cancelled are terminal")
	}
	if JobStatusFailed.Terminal() || JobStatusPending.Terminal() {
		t.Error("failed and pending jobs may be picked up again")
	}
}

func TestJobQueueMessageShape(t *testing.T) {
	job := Job{
		VideoID:   "abc",
		Status:    JobStatusPending,
		Data:      FormFields{Nombre: "Juan", Email: "juan@example.com"},
		CreatedAt: time.Date(2025, 12, 24, 20, 0, 0, 0, time.UTC),
	}

	raw, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	for _, key := range []string{"videoId", "status", "data", "createdAt"} {
		if _, ok := m[key]; !ok {
			t.Errorf("missing key %q in %s", key, raw)
		}
	}
	if _, ok := m["videoUrl"]; ok {
		t.Error("videoUrl should be omitted when empty")
	}
	if m["createdAt"] != "2025-12-24T20:00:00Z" {
		t.Errorf("createdAt not ISO8601: %v", m["createdAt"])
	}
}

func TestToResponseHidesForm(t *testing.T) {
	job := &Job{VideoID: "x", Status: JobStatusCompleted, VideoURL: "https://cdn/x.mp4", Data: FormFields{Email: "a@b.co"}}
	raw, _ := json.Marshal(job.ToResponse())

	var m map[string]interface{}
	_ = json.Unmarshal(raw, &m)
	if _, ok := m["data"]; ok {
		t.Error("response must not expose form data")
	}
	if m["videoUrl"] != "https://cdn/x.mp4" {
		t.Errorf("unexpected videoUrl %v", m["videoUrl"])
	}
}
