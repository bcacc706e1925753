package echoapi

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/classboard/core"
	"github.com/trezcool/classboard/core/user"
	"github.com/trezcool/classboard/core/whiteboard"
)

type (
	SuccessResponse struct {
		Success bool   `json:"success"`
		Message string `json:"message,omitempty"`
	}

	// StatusResponse reports the presence of one whiteboard.
	StatusResponse struct {
		Success       bool    `json:"success"`
		WhiteboardID  string  `json:"whiteboard_id"`
		IsActive      bool    `json:"is_active"`
		IsOnline      bool    `json:"is_online"`
		LastHeartbeat *string `json:"last_heartbeat"`
	}

	StatusListResponse struct {
		Success     bool             `json:"success"`
		Whiteboards []StatusResponse `json:"whiteboards"`
		Count       int              `json:"count"`
	}

	// BoardCredentials is a whiteboard as shown to its owner or an authorized app, secret included.
	BoardCredentials struct {
		ID            string  `json:"id"`
		Name          string  `json:"name"`
		BoardID       string  `json:"board_id"`
		SecretKey     string  `json:"secret_key"`
		ClassID       string  `json:"class_id"`
		ClassName     string  `json:"class_name"`
		IsOnline      bool    `json:"is_online"`
		LastHeartbeat *string `json:"last_heartbeat"`
		CreatedAt     *string `json:"created_at"`
	}

	UserSummary struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Email    string `json:"email"`
	}

	AccessibleBoardsResponse struct {
		Success bool               `json:"success"`
		Data    []BoardCredentials `json:"data"`
		Count   int                `json:"count"`
		User    UserSummary        `json:"user"`
	}

	FrameworkBoardsResponse struct {
		Success     bool               `json:"success"`
		Whiteboards []BoardCredentials `json:"whiteboards"`
		Count       int                `json:"count"`
		User        UserSummary        `json:"user"`
	}

	FrameworkAuthRequest struct {
		AppID     string `json:"app_id"`
		AppSecret string `json:"app_secret"`
		ID        string `json:"id"`
		Token     string `json:"token"`
	}

	FrameworkAuthResponse struct {
		Success        bool   `json:"success"`
		BoardID        string `json:"board_id"`
		SecretKey      string `json:"secret_key"`
		WhiteboardName string `json:"whiteboard_name"`
		ClassName      string `json:"class_name"`
	}

	FrameworkAuthWithTokenRequest struct {
		AppID     string `json:"app_id"`
		AppSecret string `json:"app_secret"`
		UserToken string `json:"user_token"`
	}

	ResetSecretRequest struct {
		ID    string `json:"id"`
		Token string `json:"token"`
	}

	ResetSecretResponse struct {
		Success        bool   `json:"success"`
		Message        string `json:"message"`
		NewSecretKey   string `json:"new_secret_key"`
		WhiteboardID   string `json:"whiteboard_id"`
		WhiteboardName string `json:"whiteboard_name"`
	}

	BoardTokenResponse struct {
		WhiteboardID string `json:"whiteboard_id"`
		Token        string `json:"token"`
	}

	UserTokenStatus struct {
		HasToken       bool       `json:"has_token"`
		TokenCreatedAt *time.Time `json:"token_created_at"`
	}

	HistoryQuery struct {
		Date string `query:"date" validate:"required,isodate"`
	}

	HistoryResponse struct {
		Success bool                       `json:"success"`
		Date    string                     `json:"date"`
		Data    []whiteboard.StatusHistory `json:"data"`
	}
)

func (hq *HistoryQuery) Validate(validate *validator.Validate) error {
	hq.Date = core.CleanString(hq.Date)
	return validate.Struct(hq)
}

func newStatusResponse(wb whiteboard.Whiteboard, loc *time.Location) StatusResponse {
	return StatusResponse{
		Success:       true,
		WhiteboardID:  wb.ID,
		IsActive:      wb.IsActive,
		IsOnline:      wb.IsOnline,
		LastHeartbeat: core.FormatTime(wb.LastHeartbeat, loc),
	}
}

func newBoardCredentials(wb whiteboard.Whiteboard, loc *time.Location) BoardCredentials {
	return BoardCredentials{
		ID:            wb.ID,
		Name:          wb.Name,
		BoardID:       wb.BoardID,
		SecretKey:     wb.SecretKey,
		ClassID:       wb.ClassID,
		ClassName:     wb.ClassName,
		IsOnline:      wb.IsOnline,
		LastHeartbeat: core.FormatTime(wb.LastHeartbeat, loc),
		CreatedAt:     core.FormatTime(&wb.CreatedAt, loc),
	}
}

func newBoardCredentialsList(boards []whiteboard.Whiteboard, loc *time.Location) []BoardCredentials {
	list := make([]BoardCredentials, 0, len(boards))
	for _, wb := range boards {
		list = append(list, newBoardCredentials(wb, loc))
	}
	return list
}

func newUserSummary(usr user.User) UserSummary {
	return UserSummary{ID: usr.ID, Username: usr.Username, Email: usr.Email}
}
