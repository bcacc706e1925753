package whiteboard

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/classboard/core"
)

// Whiteboard is a device registered under a class, with its own credentials and presence state.
type Whiteboard struct {
	ID            string     `json:"id"`
	ClassID       string     `json:"class_id"`
	ClassName     string     `json:"class_name"` // read-only, joined from the class
	TeacherID     string     `json:"teacher_id"` // read-only, joined from the class
	Name          string     `json:"name"`
	BoardID       string     `json:"board_id"`
	SecretKey     string     `json:"-"`
	Token         string     `json:"-"`
	IsActive      bool       `json:"is_active"`
	IsOnline      bool       `json:"is_online"`
	LastHeartbeat *time.Time `json:"last_heartbeat"` // UTC
	CreatedAt     time.Time  `json:"created_at"`     // UTC
}

// HeartbeatFresh reports whether the last heartbeat happened less than threshold before now.
func (wb Whiteboard) HeartbeatFresh(now time.Time, threshold time.Duration) bool {
	if wb.LastHeartbeat == nil {
		return false
	}
	return now.Sub(*wb.LastHeartbeat) < threshold
}

// TeacherRoom is the notification room of the teacher owning this whiteboard.
func (wb Whiteboard) TeacherRoom() string {
	return TeacherRoom(wb.TeacherID)
}

// Room is the notification room of this whiteboard.
func (wb Whiteboard) Room() string {
	return Room(wb.ID)
}

func TeacherRoom(teacherID string) string { return "teacher_" + teacherID }
func Room(whiteboardID string) string     { return "whiteboard_" + whiteboardID }

// StatusHistory is an append-only presence log entry.
type StatusHistory struct {
	ID           int64     `json:"id"`
	WhiteboardID string    `json:"whiteboard_id"`
	IsOnline     bool      `json:"is_online"`
	CreatedAt    time.Time `json:"created_at"` // UTC
}

type NewWhiteboard struct {
	Name string `json:"name" validate:"required,max=100"`
}

func (nw *NewWhiteboard) Validate(validate *validator.Validate) error {
	nw.Name = core.CleanString(nw.Name)
	return validate.Struct(nw)
}
