// Package testutil provides shared helpers for package tests: a logger that
// writes through t.Log and small CSV fixtures.
package testutil

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

// NewTestLogger returns a logger that writes to t.Log().
// Logs only appear on test failure or when running with -v.
func NewTestLogger(t testing.TB) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

type testWriter struct {
	t testing.TB
}

func (w testWriter) Write(p []byte) (n int, err error) {
	w.t.Helper()
	w.t.Log(string(p))
	return len(p), nil
}

// WriteFile writes content to dir/name and returns the full path.
func WriteFile(t testing.TB, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("create fixture dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

// SampleCSV is a small raw input with a duplicate, null tokens, mixed date
// formats and inconsistent categorical spellings.
const SampleCSV = `participant_id,date,age,gender,height_cm,weight_kg,activity_type,duration_minutes,intensity,calories_burned,avg_heart_rate,hours_sleep,stress_level,daily_steps,smoking_status,health_condition
1,2023/01/05,30,male,1.80,81,running,45,High,400,140,7.5,4,9000,Never,None
1,2023-01-12,30,Male,180,82,Running,30,medium,300,130,N/A,5,8000,non-smoker,none
1,2023-01-12,30,Male,180,82,Running,30,medium,300,130,N/A,5,8000,non-smoker,none
2,05/07/2023,52,F,165,70,cycling,60,low,450,120,6.0,3,,Former,Diabetes
2,2023-07-12,52,female,165,,yoga,40,Low,200,100,6.5,2,6000,Former,Diabetes
3,2023-10-01,17,f,160,55,walking,20,L,100,95,8.0,,4000,Never,
`

// WriteSample writes SampleCSV into dir and returns its path.
func WriteSample(t testing.TB, dir string) string {
	t.Helper()
	return WriteFile(t, dir, "fitness_raw.csv", SampleCSV)
}
