// Package journal keeps an append-only record of job outcomes. Records are
// chained with sha256 sums so after-the-fact edits to the file are detectable.
package journal

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Record is one job outcome. PrevSum/Sum form the integrity chain and are
// filled in by Append.
type Record struct {
	Seq       int    `json:"seq"`
	Time      string `json:"time"`
	RunID     string `json:"runId"`
	Workflow  string `json:"workflow"`
	Job       string `json:"job"`
	Status    string `json:"status"`
	ExitCode  int    `json:"exitCode"`
	LogPath   string `json:"logPath"`
	LogSHA256 string `json:"logSha256"`
	PrevSum   string `json:"prevSum"`
	Sum       string `json:"sum"`
}

// canonical returns the JSON bytes the record sum is computed over.
// It excludes Sum itself.
func (r *Record) canonical() ([]byte, error) {
	view := struct {
		Seq       int    `json:"seq"`
		Time      string `json:"time"`
		RunID     string `json:"runId"`
		Workflow  string `json:"workflow"`
		Job       string `json:"job"`
		Status    string `json:"status"`
		ExitCode  int    `json:"exitCode"`
		LogPath   string `json:"logPath"`
		LogSHA256 string `json:"logSha256"`
		PrevSum   string `json:"prevSum"`
	}{r.Seq, r.Time, r.RunID, r.Workflow, r.Job, r.Status, r.ExitCode, r.LogPath, r.LogSHA256, r.PrevSum}
	return json.Marshal(view)
}

func (r *Record) computeSum() (string, error) {
	data, err := r.canonical()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Journal is a JSONL file of records, one per line, loaded into memory on open.
type Journal struct {
	mu      sync.Mutex
	records []*Record
	path    string
}

// Open loads an existing journal file or starts an empty one.
func Open(path string) (*Journal, error) {
	j := &Journal{path: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return j, nil
	}
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode journal entry: %w", err)
		}
		j.records = append(j.records, &rec)
	}
	return j, nil
}

// Append stamps the record with the next sequence number, the current time,
// and the chain sums, then persists it.
func (j *Journal) Append(rec *Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	rec.Seq = len(j.records)
	rec.Time = time.Now().UTC().Format(time.RFC3339)
	rec.PrevSum = ""
	if len(j.records) > 0 {
		rec.PrevSum = j.records[len(j.records)-1].Sum
	}

	sum, err := rec.computeSum()
	if err != nil {
		return fmt.Errorf("compute record sum: %w", err)
	}
	rec.Sum = sum

	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal file: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(rec); err != nil {
		return fmt.Errorf("write journal file: %w", err)
	}

	j.records = append(j.records, rec)
	return nil
}

// Verify recomputes the chain and reports the first record that does not
// match its sum or its predecessor's.
func (j *Journal) Verify() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	prev := ""
	for i, rec := range j.records {
		if rec.Seq != i {
			return fmt.Errorf("record %d: sequence gap (have %d)", i, rec.Seq)
		}
		if rec.PrevSum != prev {
			return fmt.Errorf("record %d: chain break: prevSum %q, expected %q", i, rec.PrevSum, prev)
		}
		sum, err := rec.computeSum()
		if err != nil {
			return err
		}
		if sum != rec.Sum {
			return fmt.Errorf("record %d (%s/%s): sum mismatch, record was modified", i, rec.RunID, rec.Job)
		}
		prev = rec.Sum
	}
	return nil
}

// Records returns a copy of the loaded records.
func (j *Journal) Records() []*Record {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]*Record(nil), j.records...)
}

// LastSum returns the sum of the newest record, or empty.
func (j *Journal) LastSum() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.records) == 0 {
		return ""
	}
	return j.records[len(j.records)-1].Sum
}

// NextSeq returns the sequence number the next append will use.
func (j *Journal) NextSeq() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.records)
}
