package model

import "time"

// FetchJob is the pollable progress state of one bulk-fetch run. Counters
// only grow until Done flips; Processed == Successful + Failed holds at
// every observation point.
type FetchJob struct {
	JobID      string    `json:"job_id"`
	Total      int       `json:"total"`
	Processed  int       `json:"processed"`
	Successful int       `json:"successful"`
	Failed     int       `json:"failed"`
	Done       bool      `json:"done"`
	Message    string    `json:"message"`
	TotalInDB  int       `json:"total_waybills_in_db"`
	CreatedAt  time.Time `json:"created_at"`
}
