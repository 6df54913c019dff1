package config

import "time"

// View is the JSON form of Settings used in command responses and the API.
type View struct {
	Version          uint64   `json:"version" example:"12" doc:"Settings version"`
	Policy           Policy   `json:"policy" example:"schedule" doc:"Active recording policy"`
	Frame            string   `json:"frame" example:"1920x1080" doc:"Frame size"`
	FPS              int      `json:"fps" example:"30" doc:"Frames per second"`
	Bitrate          int      `json:"bitrate" example:"2000000" doc:"Encoder bitrate in bits per second"`
	Gamma            float64  `json:"gamma" example:"1" doc:"Gamma correction"`
	WhiteBalance     string   `json:"wb" example:"none" doc:"White balance: none or auto"`
	ColorMode        string   `json:"color_mode" example:"rgb" doc:"Color mode: rgb or gray"`
	ROI              []int    `json:"roi" doc:"Motion region of interest as x, y, w, h"`
	ScheduleTime     string   `json:"schedule_time" example:"11:41" doc:"Daily session start"`
	ScheduleDays     []string `json:"schedule_days" doc:"Weekdays the schedule runs on"`
	ScheduleDuration int      `json:"schedule_duration_sec" example:"60" doc:"Scheduled session length in seconds"`
	SegmentLength    int      `json:"segment_length_sec" example:"60" doc:"Scheduled segment length in seconds"`
	MotionTime       string   `json:"motion_time" example:"13:14" doc:"Daily merge checkpoint in motion mode"`
	MotionDays       []string `json:"motion_days" doc:"Weekdays the checkpoint runs on"`
	IdleTimeout      string   `json:"idle_timeout" example:"2s" doc:"Motion idle time before a segment closes"`
	TimeZone         string   `json:"time_zone" example:"Local" doc:"Time zone of the schedule"`
	UpdatedAt        string   `json:"updated_at,omitempty" doc:"Last change"`
}

// View returns the JSON form of s.
func (s Settings) View() View {
	v := View{
		Version:          s.Version,
		Policy:           s.Policy,
		Frame:            s.Frame.String(),
		FPS:              s.FPS,
		Bitrate:          s.Bitrate,
		Gamma:            s.Gamma,
		WhiteBalance:     string(s.WhiteBalance),
		ColorMode:        string(s.ColorMode),
		ROI:              []int{s.ROI.X, s.ROI.Y, s.ROI.W, s.ROI.H},
		ScheduleTime:     s.Schedule.At.String(),
		ScheduleDays:     s.Schedule.Days.Names(),
		ScheduleDuration: int(s.ScheduleDuration / time.Second),
		SegmentLength:    int(s.SegmentLength / time.Second),
		MotionTime:       s.Checkpoint.At.String(),
		MotionDays:       s.Checkpoint.Days.Names(),
		IdleTimeout:      s.IdleTimeout.String(),
		TimeZone:         s.TimeZone,
	}
	if !s.UpdatedAt.IsZero() {
		v.UpdatedAt = s.UpdatedAt.Format(time.RFC3339)
	}
	return v
}
