package model

import "time"

// CertificateBundle holds the mutual-TLS material and endpoints for one
// upstream API credential. Exactly one bundle is pinned for the lifetime
// of a job; a job never switches bundles mid-run.
type CertificateBundle struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	ClientPFX   []byte    `json:"-"`
	PFXPassword string    `json:"-"`
	ServerCert  []byte    `json:"-"`
	CarsURL     string    `json:"cars_url"`
	WaybillURL  string    `json:"waybill_url"`
	SkipVerify  bool      `json:"skip_verify"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}
