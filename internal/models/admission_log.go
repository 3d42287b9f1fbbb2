package models

import "time"

// AdmissionLog records one gate decision and the response that followed it
type AdmissionLog struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Timestamp      time.Time `gorm:"index" json:"timestamp"`
	RequestID      string    `gorm:"index" json:"request_id"`
	Method         string    `json:"method"`
	Path           string    `gorm:"index" json:"path"`
	StatusCode     int       `gorm:"index" json:"status_code"`
	TrackingKey    string    `gorm:"index" json:"tracking_key"`
	EndpointGroup  string    `gorm:"index" json:"endpoint_group"`
	Verdict        string    `gorm:"index" json:"verdict"`
	Limit          int       `json:"limit"`
	Remaining      int       `json:"remaining"`
	ResponseTimeMs int       `json:"response_time_ms"`
	UserAgent      string    `json:"user_agent"`
	BackendServer  string    `json:"backend_server,omitempty"`
}

func (AdmissionLog) TableName() string {
	return "admission_logs"
}
