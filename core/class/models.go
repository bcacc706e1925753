package class

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/classboard/core"
)

// Class is the tenant that owns whiteboards. Its teacher receives the presence events of its boards.
type Class struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Code        string    `json:"code"`
	TeacherID   string    `json:"teacher_id"`
	CreatedAt   time.Time `json:"created_at"`
}

type NewClass struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description"`
}

func (nc *NewClass) Validate(validate *validator.Validate) error {
	nc.Name = core.CleanString(nc.Name)
	nc.Description = core.CleanString(nc.Description)
	return validate.Struct(nc)
}
