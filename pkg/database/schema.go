package database

import (
	"time"

	"github.com/lib/pq"
)

type Model struct {
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Recording is a catalog row for a recording kept by an acquisition run
type Recording struct {
	Model

	ID          string         `json:"id" gorm:"primaryKey"`
	Species     string         `json:"species" gorm:"index:idx_recording_species"`
	ClassID     int            `json:"classId"`
	Genus       string         `json:"genus"`
	Epithet     string         `json:"epithet"`
	Country     string         `json:"country" gorm:"index:idx_recording_country"`
	Locality    string         `json:"locality"`
	Type        string         `json:"type"`
	License     string         `json:"license"`
	URL         string         `json:"url"`
	FileName    string         `json:"fileName"`
	Quality     string         `json:"quality"`
	Length      string         `json:"length"`
	SampleRate  string         `json:"sampleRate"`
	Also        pq.StringArray `json:"also" gorm:"type:text[]"`
	Acquisition string         `json:"acquisition" gorm:"index"` // id of the last run that kept it
}

// Acquisition is one run of the pipeline
type Acquisition struct {
	ID            string    `json:"id" gorm:"primaryKey"`
	Date          time.Time `json:"date" gorm:"index;type:timestamptz"`
	Query         string    `json:"query"` // e.g.: "grp:1 len:4-6"
	NumSpecies    int       `json:"numSpecies"`
	NumRecordings int       `json:"numRecordings"` // before filtering
	Retained      int       `json:"retained"`
	Downloaded    int       `json:"downloaded"`
	Skipped       int       `json:"skipped"`
	Failed        int       `json:"failed"`
	Complete      bool      `json:"complete"`
	Error         string    `json:"error,omitempty"` // set when the run aborted
}
