package models

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

type StorageClass string

const (
	StorageBulk   StorageClass = "bulk"
	StorageFresh  StorageClass = "fresh"
	StorageViewer StorageClass = "viewer"
)

func ParseStorageClass(s string) (StorageClass, error) {
	switch StorageClass(s) {
	case StorageBulk, StorageFresh, StorageViewer:
		return StorageClass(s), nil
	case "":
		return StorageBulk, nil
	default:
		return "", fmt.Errorf("unknown storage class %q", s)
	}
}

// LocalFile is a document file chosen by the user that has not necessarily been
// uploaded. Fingerprint is the sha256 of its content when known.
type LocalFile struct {
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	ModTime     time.Time `json:"mod_time"`
	Fingerprint string    `json:"fingerprint,omitempty"`
}

func LocalFileFromPath(path string) (LocalFile, error) {
	st, err := os.Stat(path)
	if err != nil {
		return LocalFile{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if st.IsDir() {
		return LocalFile{}, fmt.Errorf("%s is a directory", path)
	}
	return LocalFile{
		Name:    filepath.Base(path),
		Path:    path,
		Size:    st.Size(),
		ModTime: st.ModTime(),
	}, nil
}

func (f LocalFile) Open() (io.ReadCloser, error) {
	return os.Open(f.Path)
}

// SessionDocument is one document registered in the current workspace session.
// Source and ViewURL are runtime-only and never persisted.
type SessionDocument struct {
	DocID       string       `json:"doc_id"`
	DisplayName string       `json:"display_name"`
	Source      *LocalFile   `json:"source,omitempty"`
	ViewURL     string       `json:"view_url"`
	Class       StorageClass `json:"class,omitempty"`
	AddedAt     time.Time    `json:"added_at"`
}

func (d SessionDocument) Persisted() PersistedEntry {
	return PersistedEntry{DocID: d.DocID, Name: d.DisplayName}
}

// PersistedEntry is the durable shape of a registry entry.
type PersistedEntry struct {
	DocID string `json:"docId"`
	Name  string `json:"name"`
}

type Match struct {
	DocID           string  `json:"docId"`
	Filename        string  `json:"filename"`
	Page            int     `json:"page"`
	Title           string  `json:"title"`
	Snippet         string  `json:"snippet"`
	Score           float64 `json:"score"`
	PDFName         string  `json:"pdf_name,omitempty"`
	SectionHeading  string  `json:"section_heading,omitempty"`
	SectionContent  string  `json:"section_content,omitempty"`
	SectionID       string  `json:"section_id,omitempty"`
	RelevanceReason string  `json:"relevance_reason,omitempty"`
}

// SelectionState is the latest text captured from the viewer. Normalized is
// empty or at least the minimum selection length.
type SelectionState struct {
	Raw        string    `json:"raw"`
	Normalized string    `json:"normalized"`
	CapturedAt time.Time `json:"captured_at"`
}

type OutlineItem struct {
	Level string `json:"level"`
	Text  string `json:"text"`
	Page  int    `json:"page"`
}

type Outline struct {
	DocID string        `json:"docId"`
	Title string        `json:"title"`
	Items []OutlineItem `json:"outline"`
}

type ExtractedSection struct {
	Document       string `json:"document"`
	SectionTitle   string `json:"section_title"`
	ImportanceRank int    `json:"importance_rank"`
	PageNumber     int    `json:"page_number"`
}

type SubsectionAnalysis struct {
	Document    string `json:"document"`
	RefinedText string `json:"refined_text"`
	PageNumber  int    `json:"page_number"`
}

type PersonaResult struct {
	Metadata           map[string]any       `json:"metadata"`
	ExtractedSections  []ExtractedSection   `json:"extracted_sections"`
	SubsectionAnalysis []SubsectionAnalysis `json:"subsection_analysis"`
}

type Recommendation struct {
	DocID          string  `json:"docId"`
	Filename       string  `json:"filename"`
	Page           int     `json:"page"`
	Title          string  `json:"title"`
	Snippet        string  `json:"snippet"`
	RelevanceScore float64 `json:"relevance_score"`
	Reasoning      string  `json:"reasoning"`
}

type AudioResult struct {
	AudioURL         string  `json:"audio_url"`
	Script           string  `json:"script,omitempty"`
	DurationEstimate float64 `json:"duration_estimate,omitempty"`
	Error            string  `json:"error,omitempty"`
	Speakers         int     `json:"speakers,omitempty"`
}

type ResetResult struct {
	Message      string `json:"message"`
	FilesRemoved int    `json:"files_removed"`
	IndexReset   bool   `json:"index_reset"`
}

type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskSuccess TaskStatus = "success"
	TaskFailed  TaskStatus = "failed"
)

// UploadTask is one file of an upload batch.
type UploadTask struct {
	TaskID string       `json:"task_id"`
	File   LocalFile    `json:"file"`
	Class  StorageClass `json:"class"`
}

// UploadOutcome is the resolution of one UploadTask. DocID and Outline are set
// on success, Reason and ErrorType on failure.
type UploadOutcome struct {
	TaskID    string     `json:"task_id"`
	File      string     `json:"file"`
	Status    TaskStatus `json:"status"`
	DocID     string     `json:"doc_id,omitempty"`
	Title     string     `json:"title,omitempty"`
	Pages     int        `json:"pages,omitempty"`
	Outline   Outline    `json:"outline"`
	Reason    string     `json:"reason,omitempty"`
	ErrorType string     `json:"error_type,omitempty"`
}

func (o UploadOutcome) Succeeded() bool {
	return o.Status == TaskSuccess
}
