package catalog

import "time"

// Merge states of a session.
const (
	MergeNone    = ""
	MergePending = "pending"
	MergeDone    = "merged"
	MergeFailed  = "failed"
)

// Session is one recording session.
type Session struct {
	ID          string       `gorm:"primaryKey" json:"id"`
	Policy      string       `gorm:"column:policy" json:"policy"`
	StartedAt   time.Time    `gorm:"column:started_at" json:"started_at"`
	EndedAt     *time.Time   `gorm:"column:ended_at" json:"ended_at,omitempty"`
	Cause       string       `gorm:"column:cause" json:"cause,omitempty"`
	MergeStatus string       `gorm:"column:merge_status;index" json:"merge_status,omitempty"`
	MergedPath  string       `gorm:"column:merged_path" json:"merged_path,omitempty"`
	Segments    []Segment    `gorm:"foreignKey:SessionID;references:ID" json:"segments,omitempty"`
	Params      []ParamEvent `gorm:"foreignKey:SessionID;references:ID" json:"params,omitempty"`
}

// Segment is one recorded file of a session.
type Segment struct {
	ID        uint     `gorm:"primaryKey" json:"-"`
	SessionID string   `gorm:"column:session_id;uniqueIndex:idx_segment_seq" json:"session_id"`
	Seq       int      `gorm:"column:seq;uniqueIndex:idx_segment_seq" json:"seq"`
	Path      string   `gorm:"column:path" json:"path"`
	Geometry  string   `gorm:"column:geometry" json:"geometry,omitempty"`
	Start     float64  `gorm:"column:start_offset" json:"start"`
	End       *float64 `gorm:"column:end_offset" json:"end,omitempty"`
	Frames    int      `gorm:"column:frames" json:"frames"`
}

// Closed reports whether the segment end offset is known.
func (s Segment) Closed() bool {
	return s.End != nil
}

// ParamEvent is an image parameter change during a session.
type ParamEvent struct {
	ID           uint    `gorm:"primaryKey" json:"-"`
	SessionID    string  `gorm:"column:session_id;index" json:"session_id"`
	Offset       float64 `gorm:"column:offset_seconds" json:"offset"`
	Gamma        float64 `gorm:"column:gamma" json:"gamma"`
	WhiteBalance string  `gorm:"column:white_balance" json:"white_balance"`
	ColorMode    string  `gorm:"column:color_mode" json:"color_mode"`
}

// Merge is one merge attempt.
type Merge struct {
	ID         string    `gorm:"primaryKey" json:"id"`
	SessionID  string    `gorm:"column:session_id;index" json:"session_id"`
	Output     string    `gorm:"column:output" json:"output"`
	Path       string    `gorm:"column:merge_path" json:"path,omitempty"`
	Inputs     int       `gorm:"column:inputs" json:"inputs"`
	Error      string    `gorm:"column:error" json:"error,omitempty"`
	Seconds    float64   `gorm:"column:seconds" json:"seconds"`
	FinishedAt time.Time `gorm:"column:finished_at" json:"finished_at"`
}
