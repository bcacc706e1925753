package developer

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/classboard/core"
)

// App statuses
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// App is a third-party integration identified by an (app_id, app_secret) pair.
// Only approved apps may authenticate.
type App struct {
	ID          string     `json:"id"`
	DeveloperID string     `json:"developer_id"`
	Name        string     `json:"app_name"`
	AppID       string     `json:"app_id"`
	SecretHash  []byte     `json:"-"`
	Description string     `json:"description"`
	CallbackURL string     `json:"callback_url"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`  // UTC
	ApprovedAt  *time.Time `json:"approved_at"` // UTC
}

func (app App) IsApproved() bool {
	return app.Status == StatusApproved
}

type NewApp struct {
	Name        string `json:"app_name" validate:"required,max=100"`
	Description string `json:"description"`
	CallbackURL string `json:"callback_url" validate:"omitempty,url"`
}

func (na *NewApp) Validate(validate *validator.Validate) error {
	na.Name = core.CleanString(na.Name)
	na.Description = core.CleanString(na.Description)
	na.CallbackURL = core.CleanString(na.CallbackURL)
	return validate.Struct(na)
}

// IssuedCredentials carries a plain app_secret. It is only ever returned right after generation.
type IssuedCredentials struct {
	App       App    `json:"app"`
	AppSecret string `json:"app_secret"`
}
